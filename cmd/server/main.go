package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/resqview/internal/api"
	"github.com/nadmax/resqview/internal/config"
	"github.com/nadmax/resqview/internal/dashboard"
	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/render"
	"github.com/nadmax/resqview/internal/repository/postgres"
	"github.com/nadmax/resqview/internal/stats"
	"github.com/nadmax/resqview/internal/store"
	"github.com/nadmax/resqview/internal/summary"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(os.Getenv("RESQVIEW_CONFIG"))
	if err != nil {
		return err
	}

	s, err := store.Open(store.Options{
		Addr:         cfg.RedisAddr,
		Namespace:    cfg.RedisNamespace,
		PoolSize:     cfg.RedisPoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return err
	}

	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The dashboard still serves its degraded page while Redis is down.
	if err := s.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", "addr", s.Addr(), "error", err)
	}

	runtime := queue.NewRuntime(s)
	failures := failure.NewIndex(s, runtime)
	exporter := stats.NewExporter(runtime, cfg.StatsPrefix)
	dash := dashboard.NewDashboard(s, runtime, failures, exporter, cfg.PageSize)

	renderer, err := render.New()
	if err != nil {
		return err
	}

	deps := api.Deps{
		Store:     s,
		Dashboard: dash,
		Runtime:   runtime,
		Failures:  failures,
		Renderer:  renderer,
		Logger:    logger,
	}

	if cfg.PostgresDSN != "" {
		repo, err := postgres.NewPostgresActionRepository(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("audit log: %w", err)
		}

		defer func() {
			if err := repo.Close(); err != nil {
				logger.Warn("failed to close Postgres repository", "error", err)
			}
		}()

		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Actions = repo
		logger.Info("audit log enabled")
	}

	go startMetricsCollector(ctx, runtime, summary.NewAggregator(failures), cfg.MetricsRefresh, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewAPI(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort, "redis", s.Addr(), "namespace", s.Namespace())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
