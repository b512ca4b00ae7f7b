package cli

import (
	"context"
	"fmt"
	"strings"

	"ariga.io/atlas-go-sdk/atlasexec"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/config"
	"github.com/matthewbaird/lifecycle/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var (
		atlasDir string
		atlasURL string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: "Without --atlas-dir the schema is created from the built-in table definitions. " +
			"With --atlas-dir the versioned migrations in that directory are applied by the atlas CLI.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if atlasDir != "" {
				url := atlasURL
				if url == "" {
					url = atlasDatabaseURL(cfg)
				}
				return applyAtlas(cmd.Context(), atlasDir, url, logger)
			}
			return migrateSchema(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&atlasDir, "atlas-dir", "", "Apply versioned migrations from this directory with atlas")
	cmd.Flags().StringVar(&atlasURL, "url", "", "Database URL for atlas (default derived from DATABASE_URL)")
	return cmd
}

func migrateSchema(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		if err := store.NewPgStore(pool).EnsureTable(ctx); err != nil {
			return fmt.Errorf("creating events table: %w", err)
		}
		if err := activity.NewPostgresStore(pool).EnsureTable(ctx); err != nil {
			return fmt.Errorf("creating activity table: %w", err)
		}
	default:
		logger.Info("nothing_to_migrate", zap.String("store", cfg.Store))
		return nil
	}
	logger.Info("database_migrated", zap.String("store", cfg.Store))
	return nil
}

func applyAtlas(ctx context.Context, dir, url string, logger *zap.Logger) error {
	client, err := atlasexec.NewClient(".", "atlas")
	if err != nil {
		return fmt.Errorf("initializing atlas client: %w", err)
	}
	res, err := client.MigrateApply(ctx, &atlasexec.MigrateApplyParams{
		URL:    url,
		DirURL: "file://" + strings.TrimPrefix(dir, "file://"),
	})
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	logger.Info("migrations_applied",
		zap.Int("applied", len(res.Applied)),
		zap.String("current", res.Current),
		zap.String("target", res.Target),
	)
	return nil
}

// atlasDatabaseURL converts the store DSN into an atlas URL.
func atlasDatabaseURL(cfg *config.Config) string {
	dsn := cfg.DatabaseURL
	if cfg.Store == config.StoreSQLite {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return "sqlite://" + path
	}
	return dsn
}
