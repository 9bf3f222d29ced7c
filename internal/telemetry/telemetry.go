// Package telemetry wires structured logging and Prometheus metrics for
// the CAS service: HTTP request duration, blob store traffic, ref-count
// state transitions, garbage-collection batches, and quota rejections.
package telemetry

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewLogger builds a slog.Logger writing to stderr in the given format
// ("json" or "text") at the given level ("debug", "info", "warn", "error").
func NewLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, every strata-specific collector, and
// any additional collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		BlobPutTotal,
		BlobGetTotal,
		BlobBytesStoredTotal,
		RefCountTransitionsTotal,
		GCBatchesTotal,
		GCBlobsErasedTotal,
		GCErrorsTotal,
		QuotaRejectionsTotal,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

var (
	// HTTPRequestDuration records request latency by method, route pattern, and status.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strata",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// BlobPutTotal counts PUT /chunks calls by outcome ("created", "deduped", "rejected").
	BlobPutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "blob_put_total",
		Help:      "Count of blob put attempts by outcome.",
	}, []string{"outcome"})

	// BlobGetTotal counts GET /chunks calls by outcome ("hit", "miss").
	BlobGetTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "blob_get_total",
		Help:      "Count of blob get attempts by outcome.",
	}, []string{"outcome"})

	// BlobBytesStoredTotal accumulates bytes newly written to the blob store.
	BlobBytesStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "blob_bytes_stored_total",
		Help:      "Total bytes written to the blob store (deduplicated puts only).",
	})

	// RefCountTransitionsTotal counts active<->pending gc-state transitions.
	RefCountTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "refcount_transitions_total",
		Help:      "Count of ref-count gc-state transitions by direction.",
	}, []string{"direction"})

	// GCBatchesTotal counts completed garbage-collection batches.
	GCBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "gc_batches_total",
		Help:      "Total garbage-collection batches run.",
	})

	// GCBlobsErasedTotal counts blobs erased because their global refcount reached zero.
	GCBlobsErasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "gc_blobs_erased_total",
		Help:      "Total blobs erased by the garbage collector.",
	})

	// GCErrorsTotal counts per-entry garbage-collection failures.
	GCErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "gc_errors_total",
		Help:      "Total per-entry errors encountered during garbage collection.",
	})

	// QuotaRejectionsTotal counts writes rejected for exceeding a realm's quota.
	QuotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strata",
		Name:      "quota_rejections_total",
		Help:      "Total writes rejected because the realm's usage quota was exceeded.",
	})
)
