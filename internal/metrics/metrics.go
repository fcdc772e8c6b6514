// Package metrics provides Prometheus metrics for the dashboard and the
// job-queue runtime it watches.
package metrics

import (
	"time"

	"github.com/nadmax/resqview/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resqview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resqview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	PollRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resqview_poll_requests_total",
			Help: "Total number of live poll renders by page",
		},
		[]string{"page"},
	)
	AdminActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resqview_admin_actions_total",
			Help: "Total number of administrative actions by outcome",
		},
		[]string{"action", "result"},
	)
	JobsAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resqview_admin_jobs_affected_total",
			Help: "Total number of failure records or queues touched by administrative actions",
		},
		[]string{"action"},
	)
	StoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resqview_store_unavailable_total",
			Help: "Total number of requests that found Redis unreachable",
		},
	)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resqview_queue_depth",
			Help: "Current number of pending jobs by queue",
		},
		[]string{"queue"},
	)
	FailuresByQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resqview_failures",
			Help: "Current number of failure records by queue",
		},
		[]string{"queue"},
	)
	ProcessedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resqview_runtime_processed",
			Help: "Jobs processed as counted by the runtime",
		},
	)
	FailedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resqview_runtime_failed",
			Help: "Jobs failed as counted by the runtime",
		},
	)
	WorkersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resqview_workers_registered",
			Help: "Number of registered workers",
		},
	)
	WorkersWorking = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resqview_workers_working",
			Help: "Number of workers currently processing a job",
		},
	)
)

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func RecordPoll(page string) {
	PollRequestsTotal.WithLabelValues(page).Inc()
}

// RecordAdminAction counts one action and, on success, the number of items it
// touched.
func RecordAdminAction(action string, affected int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AdminActionsTotal.WithLabelValues(action, result).Inc()
	if err == nil && affected > 0 {
		JobsAffected.WithLabelValues(action).Add(float64(affected))
	}
}

func RecordStoreUnavailable() {
	StoreErrorsTotal.Inc()
}

// UpdateRuntimeGauges replaces the per-queue gauges so removed queues drop
// out of the export.
func UpdateRuntimeGauges(info queue.Info, sizes []queue.QueueSize) {
	QueueDepth.Reset()
	for _, q := range sizes {
		QueueDepth.WithLabelValues(q.Name).Set(float64(q.Size))
	}
	ProcessedTotal.Set(float64(info.Processed))
	FailedTotal.Set(float64(info.Failed))
	WorkersRegistered.Set(float64(info.Workers))
	WorkersWorking.Set(float64(info.Working))
}

func UpdateFailureGauges(byQueue map[string]int) {
	FailuresByQueue.Reset()
	for name, count := range byQueue {
		FailuresByQueue.WithLabelValues(name).Set(float64(count))
	}
}
