package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoproc",
		Name:      "jobs_total",
		Help:      "Photo processing job outcomes",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photoproc",
		Name:      "stage_duration_seconds",
		Help:      "Duration of photo processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	TagsInferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoproc",
		Name:      "tags_inferred_total",
		Help:      "Tags produced per source",
	}, []string{"source"})

	MetadataFieldErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photoproc",
		Name:      "metadata_field_errors_total",
		Help:      "Metadata fields dropped because they failed to parse",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "photoproc",
		Name:      "queue_depth",
		Help:      "Number of pending photo jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photoproc",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "photoproc",
		Name:      "ws_connections",
		Help:      "Number of active ops WebSocket connections",
	})
)
