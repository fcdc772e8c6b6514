package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/resqview/internal/config"
	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/notify"
	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/store"
	"github.com/nadmax/resqview/internal/summary"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("RESQVIEW_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.EmailAPIKey == "" {
		logger.Error("EMAIL_API_KEY is required")
		os.Exit(1)
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
		logger.Error("failed to open redis", "error", err)
		os.Exit(1)
	}

	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime := queue.NewRuntime(s)
	agg := summary.NewAggregator(failure.NewIndex(s, runtime))
	mailer := notify.NewMailer(cfg.EmailAPIKey, cfg.FromName, cfg.FromAddress, cfg.DigestTo, logger)

	// DIGEST_EVERY turns the one-shot run into a loop, e.g. DIGEST_EVERY=1h.
	every, err := time.ParseDuration(os.Getenv("DIGEST_EVERY"))
	if err != nil || every <= 0 {
		if err := sendDigest(ctx, agg, mailer); err != nil {
			logger.Error("digest failed", "error", err)
			stop()
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	logger.Info("digest loop started", "every", every, "recipients", len(cfg.DigestTo))
	for {
		if err := sendDigest(ctx, agg, mailer); err != nil {
			logger.Error("digest failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("digest loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func sendDigest(ctx context.Context, agg *summary.Aggregator, mailer *notify.Mailer) error {
	d, err := notify.BuildDigest(ctx, agg, time.Now().UTC())
	if err != nil {
		return err
	}
	return mailer.Send(d)
}
