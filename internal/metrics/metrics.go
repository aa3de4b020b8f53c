package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts inbound payment events by type and outcome
	// (success, failed, unhandled, unauthorized, config_error).
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybroker",
		Name:      "webhook_events_total",
		Help:      "Inbound payment events by type and outcome.",
	}, []string{"type", "outcome"})

	// WebhookDuration tracks end-to-end handling latency of payment events.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paybroker",
		Name:      "webhook_duration_seconds",
		Help:      "Payment event handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// TokenResolutionsTotal counts token manager outcomes by path (location, agency).
	TokenResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybroker",
		Name:      "token_resolutions_total",
		Help:      "Platform token resolutions by path and outcome.",
	}, []string{"path", "outcome"})

	// PlatformRequestsTotal counts outbound platform REST calls by operation and status class.
	PlatformRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybroker",
		Name:      "platform_requests_total",
		Help:      "Outbound platform API calls by operation and status.",
	}, []string{"op", "status"})
)
