package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadmax/resqview/internal/metrics"
	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/summary"
)

func startMetricsCollector(ctx context.Context, runtime *queue.Runtime, agg *summary.Aggregator, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		logger.Info("metrics refresh disabled")
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	updateRuntimeMetrics(ctx, runtime, agg, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateRuntimeMetrics(ctx, runtime, agg, logger)
		}
	}
}

func updateRuntimeMetrics(ctx context.Context, runtime *queue.Runtime, agg *summary.Aggregator, logger *slog.Logger) {
	info, sizes, err := runtime.Snapshot(ctx)
	if err != nil {
		logger.Warn("failed to read runtime info for metrics", "error", err)
		return
	}
	metrics.UpdateRuntimeGauges(info, sizes)

	byQueue, err := agg.ByQueue(ctx)
	if err != nil {
		logger.Warn("failed to summarize failures for metrics", "error", err)
		return
	}
	counts := make(map[string]int, len(byQueue.Groups))
	for _, g := range byQueue.Groups {
		counts[g.Key] = g.Count
	}
	metrics.UpdateFailureGauges(counts)
}
