// Package app assembles the engine from configuration and runs it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/celvios/baobab-mlm-sub002/internal/config"
	"github.com/celvios/baobab-mlm-sub002/internal/earnings"
	"github.com/celvios/baobab-mlm-sub002/internal/httpapi"
	"github.com/celvios/baobab-mlm-sub002/internal/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/metrics"
	"github.com/celvios/baobab-mlm-sub002/internal/notify"
	"github.com/celvios/baobab-mlm-sub002/internal/reconcile"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
	"github.com/celvios/baobab-mlm-sub002/internal/storage/memory"
	"github.com/celvios/baobab-mlm-sub002/internal/storage/postgres"
	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// Application owns every long-lived component of the service.
type Application struct {
	cfg       config.Config
	log       *logger.Logger
	store     storage.TxStore
	service   *matrix.Service
	server    *http.Server
	scheduler *reconcile.Scheduler

	closers []func() error
}

// New wires the application. Postgres and Redis are optional; without them
// the engine runs on the in-memory store and the log notifier.
func New(ctx context.Context, cfg config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}).
		WithField("component", "matrixd")

	a := &Application{cfg: cfg, log: log}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}

	notifier, err := a.initNotifier(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	writer := earnings.NewWriter(log.WithField("component", "earnings"))
	a.service = matrix.NewService(a.store, writer, notifier, log.WithField("component", "matrix"))

	if cfg.Reconcile.Enabled {
		auditor := reconcile.NewAuditor(a.store, log.WithField("component", "reconcile"))
		a.scheduler, err = reconcile.NewScheduler(auditor, cfg.Reconcile.Schedule, log.WithField("component", "reconcile"))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	handler := httpapi.NewHandler(a.service, log.WithField("component", "httpapi"), cfg.Server.EventRatePerSec, cfg.Server.EventBurst)
	router := handler.Router()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

func (a *Application) initStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.log.Info("no database configured, using in-memory store")
		a.store = memory.New()
		return nil
	}

	db, err := postgres.Connect(ctx, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	if a.cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		a.log.Info("database migrations applied")
	}
	a.store = postgres.New(db)
	return nil
}

func (a *Application) initNotifier(ctx context.Context) (notify.Notifier, error) {
	if a.cfg.Redis.Addr == "" {
		return notify.NewLogNotifier(a.log.WithField("component", "notify")), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.log.WithField("channel", a.cfg.Redis.Channel).Info("publishing events to redis")
	return notify.NewRedisNotifier(client, a.cfg.Redis.Channel, a.log.WithField("component", "notify")), nil
}

// Service exposes the engine, mainly for tests.
func (a *Application) Service() *matrix.Service { return a.service }

// Run serves HTTP until the context is canceled, then shuts down cleanly.
func (a *Application) Run(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Stop(shutdownCtx)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	<-errCh
	return a.Close()
}

// Close releases external connections.
func (a *Application) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// WaitReady blocks until the HTTP listener answers health checks or the
// timeout passes. Used by integration tests.
func (a *Application) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := "http://" + a.server.Addr + "/healthz"
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %s", timeout)
}
