package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/conditions"
	"github.com/matthewbaird/lifecycle/internal/config"
	"github.com/matthewbaird/lifecycle/internal/eventbus"
	"github.com/matthewbaird/lifecycle/internal/eventtype"
	"github.com/matthewbaird/lifecycle/internal/fallback"
	"github.com/matthewbaird/lifecycle/internal/followup"
	"github.com/matthewbaird/lifecycle/internal/metrics"
	"github.com/matthewbaird/lifecycle/internal/monitor"
	"github.com/matthewbaird/lifecycle/internal/notify"
	"github.com/matthewbaird/lifecycle/internal/seed"
	"github.com/matthewbaird/lifecycle/internal/server"
	"github.com/matthewbaird/lifecycle/internal/store"
	"github.com/matthewbaird/lifecycle/internal/wire"
)

func newServeCmd() *cobra.Command {
	var seedDemo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the monitoring loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("seed") {
				cfg.SeedDemo = seedDemo
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&seedDemo, "seed", false, "Seed demo events on startup (env: SEED_DEMO)")
	return cmd
}

// backends holds the storage and messaging clients opened for a run.
type backends struct {
	events   store.EventStore
	activity activity.Store
	redis    redis.UniversalClient
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { s.Close() })
		if err := s.Migrate(ctx); err != nil {
			b.close()
			return nil, err
		}
		b.events = s
		b.activity = activity.NewMemoryStore()
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		pg := store.NewPgStore(pool)
		if err := pg.EnsureTable(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("creating events table: %w", err)
		}
		acts := activity.NewPostgresStore(pool)
		if err := acts.EnsureTable(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("creating activity table: %w", err)
		}
		b.events, b.activity = pg, acts
	default:
		b.events = store.NewMemoryStore()
		b.activity = activity.NewMemoryStore()
	}

	if cfg.UsesRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		b.redis = client
	}
	return b, nil
}

func newDispatcher(cfg *config.Config, b *backends, logger *zap.Logger) notify.Dispatcher {
	switch cfg.Notifier {
	case config.NotifierWebhook:
		return notify.NewWebhookDispatcher(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Token:   cfg.WebhookToken,
			Timeout: cfg.WebhookTimeout,
			Retry:   notify.RetryPolicy{MaxRetries: cfg.WebhookMaxRetries, BaseDelay: cfg.WebhookRetryDelay},
		})
	case config.NotifierRedis:
		return notify.NewRedisDispatcher(b.redis, cfg.NotificationQueue)
	default:
		return notify.NewLogDispatcher(logger)
	}
}

func newLocker(cfg *config.Config, b *backends, logger *zap.Logger) monitor.Locker {
	switch cfg.MonitorLock {
	case config.LockRedis:
		return monitor.NewRedisLocker(b.redis, "", cfg.LockTTL, logger)
	case config.LockMemory:
		return &monitor.InProcessLocker{}
	default:
		return nil
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	reg, err := eventtype.Load()
	if err != nil {
		return fmt.Errorf("loading event types: %w", err)
	}
	loc := cfg.Location()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	m := metrics.New()
	bus := eventbus.New(256, logger)
	rec := activity.NewStoreRecorder(b.activity)
	rec.SetPublisher(bus)
	bus.Subscribe("log", eventbus.NewLogConsumer(logger))

	dispatcher := newDispatcher(cfg, b, logger)
	eval := conditions.New(logger, loc)
	engine := fallback.New(reg, eval, dispatcher, fallback.Addresses{
		Default:     cfg.DefaultEmail,
		Management:  cfg.ManagementEmail,
		Manager:     cfg.ManagerEmail,
		Collections: cfg.CollectionsEmail,
	}, logger,
		fallback.WithLocation(loc),
		fallback.WithRecorder(rec),
		fallback.WithMetrics(m),
	)
	sched := followup.New(reg, eval, dispatcher, followup.Property{
		Name:    cfg.PropertyName,
		Address: cfg.PropertyAddress,
		Phone:   cfg.PropertyPhone,
	}, logger,
		followup.WithLocation(loc),
		followup.WithRecorder(rec),
		followup.WithMetrics(m),
	)

	var hub *wire.Hub
	opts := []monitor.Option{
		monitor.WithStore(b.events),
		monitor.WithMetrics(m),
		monitor.WithRecorder(rec),
		monitor.WithPassHook(func(s monitor.Stats) { hub.PublishStats(s) }),
	}
	if l := newLocker(cfg, b, logger); l != nil {
		opts = append(opts, monitor.WithLocker(l))
	}
	mon := monitor.New(engine, sched, logger, opts...)
	hub = wire.NewHub(mon.Stats, logger)
	bus.Subscribe("feed", hub)

	if cfg.SeedDemo {
		if err := seed.Seed(ctx, reg, b.events, time.Now().In(loc), logger); err != nil {
			return fmt.Errorf("seeding demo events: %w", err)
		}
	}
	active, err := b.events.LoadActive(ctx)
	if err != nil {
		return err
	}

	bus.Start(ctx)
	defer bus.Stop()
	mon.Start(ctx, active, cfg.MonitorInterval)
	defer mon.Stop()

	router := server.NewRouter(server.Deps{
		Catalog:  reg,
		Events:   b.events,
		Monitor:  mon,
		Audit:    engine,
		Activity: b.activity,
		Recorder: rec,
		Feed:     hub,
		Metrics:  m,
		Logger:   logger,
	})
	return server.Run(ctx, server.Config{Port: cfg.Port}, router, logger)
}
