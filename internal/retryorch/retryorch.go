// Package retryorch decides whether a failed stage attempt should be
// retried, computes the backoff delay, and schedules the retry in the
// background.
package retryorch

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// Metrics holds the Prometheus series for the retry orchestrator.
type Metrics struct {
	RetriesScheduled *prometheus.CounterVec
	RetriesExhausted *prometheus.CounterVec
	DelaySeconds     *prometheus.HistogramVec
}

// NewMetrics registers the orchestrator's metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RetriesScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "scheduled_total",
			Help: "Background retries scheduled, by stage",
		}, []string{"stage"}),
		RetriesExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "exhausted_total",
			Help: "Stage attempts that ran out of retries, by stage and category",
		}, []string{"stage", "category"}),
		DelaySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "delay_seconds",
			Help:    "Computed retry delay in seconds, after full jitter",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"stage"}),
	}
}

// Orchestrator decides retry eligibility and timing, and schedules
// background retries.
type Orchestrator struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewOrchestrator builds a retry Orchestrator.
func NewOrchestrator(logger *slog.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger, metrics: metrics}
}

// ShouldRetry reports whether attempt is eligible for another try under
// policy, given the error's classification. A permanent (non-transient)
// classification is never retried regardless of the policy's category
// allow-list, and an attempt count at or past MaxRetries is exhausted.
func (o *Orchestrator) ShouldRetry(classification core.ErrorClassification, attempt int, policy core.RetryPolicy) bool {
	if !classification.IsTransient {
		return false
	}
	if attempt >= policy.MaxRetries {
		return false
	}
	return policy.RetryOnCategory(classification.Category)
}

// ComputeDelay returns the full-jitter backoff delay for attempt under
// policy: base = min(base_delay * multiplier^attempt, max_delay), raised
// to at least classification.RetryAfter when the error carried a
// server-supplied hint, then final = base * (1 - jitter + 2*jitter*U)
// for U uniform on [0, 1).
func (o *Orchestrator) ComputeDelay(attempt int, classification core.ErrorClassification, policy core.RetryPolicy) time.Duration {
	base := policy.BaseDelaySeconds * math.Pow(policy.BackoffMultiplier, float64(attempt))
	if base > policy.MaxDelaySeconds {
		base = policy.MaxDelaySeconds
	}
	if classification.RetryAfter != nil && *classification.RetryAfter > base {
		base = *classification.RetryAfter
	}

	j := policy.JitterFraction
	u := rand.Float64()
	final := base * (1 - j + 2*j*u)
	if final < 0 {
		final = 0
	}

	if o.metrics != nil {
		o.metrics.DelaySeconds.WithLabelValues(string(policy.StageName)).Observe(final)
	}
	return time.Duration(final * float64(time.Second))
}

// GenerateCorrelationID builds the correlation id for the next attempt.
func (o *Orchestrator) GenerateCorrelationID(requestID string, stage core.Stage, attempt int) string {
	return core.NewCorrelationID(requestID, stage, attempt)
}

// Invocation is the callback SpawnBackgroundRetry runs once the delay
// elapses. It receives a fresh context (not the caller's, which may
// already be cancelled by the time the timer fires).
type Invocation func(ctx context.Context, nextAttempt int, correlationID string) error

// SpawnBackgroundRetry schedules fn to run after delay, tagged with a
// freshly generated job id for observability. The returned job id has no
// further significance to the orchestrator itself. Callers may use it
// to correlate log lines.
func (o *Orchestrator) SpawnBackgroundRetry(stage core.Stage, requestID string, nextAttempt int, delay time.Duration, fn Invocation) string {
	jobID := uuid.NewString()
	correlationID := o.GenerateCorrelationID(requestID, stage, nextAttempt)

	if o.metrics != nil {
		o.metrics.RetriesScheduled.WithLabelValues(string(stage)).Inc()
	}
	o.logger.Info("retry scheduled",
		"job_id", jobID, "stage", stage, "correlation_id", correlationID,
		"next_attempt", nextAttempt, "delay", delay)

	time.AfterFunc(delay, func() {
		bgCtx := context.Background()
		if err := fn(bgCtx, nextAttempt, correlationID); err != nil {
			o.logger.Error("background retry failed", "job_id", jobID, "stage", stage, "error", err)
		}
	})

	return jobID
}

// RecordExhausted records that attempt ran out of retries, for metrics
// visibility into which (stage, category) pairs exhaust most often.
func (o *Orchestrator) RecordExhausted(stage core.Stage, category core.ErrorCategory) {
	if o.metrics != nil {
		o.metrics.RetriesExhausted.WithLabelValues(string(stage), string(category)).Inc()
	}
}
