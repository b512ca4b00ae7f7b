// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/handler"
	"github.com/matthewbaird/lifecycle/internal/metrics"
	"github.com/matthewbaird/lifecycle/internal/monitor"
	"github.com/matthewbaird/lifecycle/internal/store"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Catalog  handler.Catalog
	Events   store.EventStore
	Monitor  *monitor.Monitor
	Audit    handler.AuditLog
	Activity activity.Store
	Recorder activity.Recorder
	Feed     http.Handler
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Config holds server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// NewRouter registers every route on a chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(handler.Recovery(d.Logger))
	r.Use(handler.Logging(d.Logger, d.Metrics))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	th := handler.NewEventTypeHandler(d.Catalog)
	var working handler.WorkingSet
	if d.Monitor != nil {
		working = d.Monitor
	}
	eh := handler.NewEventHandler(d.Catalog, d.Events, working, d.Activity, d.Recorder, d.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/event-types", th.ListEventTypes)
		r.Get("/event-types/{id}", th.GetEventType)
		r.Get("/event-types/{id}/templates", th.ListTemplates)

		r.Get("/events", eh.ListEvents)
		r.Post("/events", eh.CreateEvent)
		r.Get("/events/{id}", eh.GetEvent)
		r.Post("/events/{id}/tasks/{taskID}/complete", eh.CompleteTask)
		r.Get("/events/{id}/activity", eh.GetEventActivity)
		r.Get("/activity/search", eh.SearchActivity)

		if d.Monitor != nil {
			mh := handler.NewMonitoringHandler(d.Monitor, d.Audit)
			r.Get("/monitoring/stats", mh.Stats)
			r.Get("/monitoring/history", mh.History)
			r.Post("/monitoring/run", mh.Run)
		}
		if d.Feed != nil {
			r.Get("/monitoring/ws", d.Feed.ServeHTTP)
		}
	})
	return r
}

// Run serves h until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, h http.Handler, logger *zap.Logger) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server_stopped")
	return nil
}
