package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal  *prometheus.CounterVec
	WebhookReplayErrors *prometheus.CounterVec

	// Gateway metrics
	GatewayRequestsTotal *prometheus.CounterVec
	GatewayRetriesTotal  *prometheus.CounterVec

	// Job queue metrics
	JobsProcessedTotal *prometheus.CounterVec
	JobRetriesTotal    *prometheus.CounterVec
	JobsDeadLettered   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chargehub"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Webhook events by provider and ingest outcome",
			},
			[]string{"provider", "outcome"},
		),
		WebhookReplayErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "replay_errors_total",
				Help:      "Webhook replay handler failures by event type",
			},
			[]string{"event_type"},
		),
		GatewayRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Outbound gateway calls by provider and outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),
		GatewayRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Outbound gateway call retries by provider",
			},
			[]string{"provider", "operation"},
		),
		JobsProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "processed_total",
				Help:      "Jobs processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		JobRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "retries_total",
				Help:      "Job retry attempts by type",
			},
			[]string{"type"},
		),
		JobsDeadLettered: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "dead_lettered",
				Help:      "Jobs currently in the dead-letter state by type",
			},
			[]string{"type"},
		),
	}
}
