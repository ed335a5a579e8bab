package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExternalEffectFailures counts best-effort publisher or notifier calls that failed.
	ExternalEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagelease",
		Name:      "external_effect_failures_total",
		Help:      "Best-effort external calls that failed, by operation.",
	}, []string{"operation"})

	// Transitions counts deployment state transitions that were applied.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagelease",
		Name:      "deployment_transitions_total",
		Help:      "Applied deployment state transitions, by target status.",
	}, []string{"to"})

	// PaymentOutcomes counts reconciled payment events by channel and outcome.
	PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagelease",
		Name:      "payment_events_total",
		Help:      "Payment events processed, by provider and outcome.",
	}, []string{"provider", "outcome"})

	// WebhookRequests counts webhook requests by provider and HTTP status.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagelease",
		Name:      "webhook_requests_total",
		Help:      "Payment webhook requests, by provider and HTTP status.",
	}, []string{"provider", "status"})

	// SweepRuns counts expiry sweeps by result.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagelease",
		Name:      "sweep_runs_total",
		Help:      "Expiry sweeps executed, by result.",
	}, []string{"result"})

	// SweepAffected counts rows changed by sweeps, by step.
	SweepAffected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagelease",
		Name:      "sweep_affected_total",
		Help:      "Deployments changed by expiry sweeps, by step.",
	}, []string{"step"})

	// SweepDuration tracks sweep latency.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pagelease",
		Name:      "sweep_duration_seconds",
		Help:      "Expiry sweep duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
)
