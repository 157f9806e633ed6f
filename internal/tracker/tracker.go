// Package tracker records stage lifecycle transitions to the
// stage_status table, rate-limiting progress writes so a chatty
// processor cannot flood Postgres.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// Metrics holds the Prometheus series for the stage tracker.
type Metrics struct {
	StageDuration   *prometheus.HistogramVec
	ProgressWrites  prometheus.Counter
	ProgressDropped prometheus.Counter
	StagesByOutcome *prometheus.CounterVec
}

// NewMetrics registers the tracker's metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tracker", Name: "stage_duration_seconds",
			Help:    "Wall-clock duration of one stage attempt",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage", "outcome"}),
		ProgressWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tracker", Name: "progress_writes_total",
			Help: "Progress updates actually written to stage_status",
		}),
		ProgressDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tracker", Name: "progress_dropped_total",
			Help: "Progress updates dropped by the per-stage rate limiter",
		}),
		StagesByOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tracker", Name: "stages_total",
			Help: "Stage attempts completed, by terminal outcome",
		}, []string{"stage", "outcome"}),
	}
}

const progressWriteInterval = 250 * time.Millisecond

// Tracker persists stage lifecycle transitions.
type Tracker struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *Metrics
}

// NewTracker builds a Tracker backed by pool.
func NewTracker(pool *pgxpool.Pool, logger *slog.Logger, metrics *Metrics) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{pool: pool, logger: logger, metrics: metrics}
}

// Handle is a scoped view of one stage attempt, returned by StartStage.
// A Handle is not safe for concurrent use by multiple goroutines.
type Handle struct {
	tracker    *Tracker
	documentID string
	stage      core.Stage
	attempt    int
	limiter    *rate.Limiter
	startedAt  time.Time
	closed     bool
}

// StartStage marks (documentID, stage) as processing and returns a
// Handle for reporting progress and the terminal outcome.
func (t *Tracker) StartStage(ctx context.Context, documentID string, stage core.Stage, attempt int) (*Handle, error) {
	now := time.Now()
	const q = `
		INSERT INTO stage_status (document_id, stage_name, status, progress, attempt, started_at)
		VALUES ($1, $2, 'processing', 0, $3, $4)
		ON CONFLICT (document_id, stage_name) DO UPDATE SET
			status = 'processing', progress = 0, attempt = $3, started_at = $4,
			completed_at = NULL, last_error_id = NULL`

	if _, err := t.pool.Exec(ctx, q, documentID, string(stage), attempt, now); err != nil {
		return nil, fmt.Errorf("tracker: start stage %s/%s: %w", documentID, stage, err)
	}

	return &Handle{
		tracker:    t,
		documentID: documentID,
		stage:      stage,
		attempt:    attempt,
		limiter:    rate.NewLimiter(rate.Every(progressWriteInterval), 1),
		startedAt:  now,
	}, nil
}

// UpdateProgress reports percent-complete progress, clamped to [0, 100].
// Writes are rate-limited to one per 250ms per (document, stage); a
// dropped write is not an error.
func (h *Handle) UpdateProgress(ctx context.Context, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if !h.limiter.Allow() {
		if h.tracker.metrics != nil {
			h.tracker.metrics.ProgressDropped.Inc()
		}
		return nil
	}

	const q = `UPDATE stage_status SET progress = $3 WHERE document_id = $1 AND stage_name = $2`
	if _, err := h.tracker.pool.Exec(ctx, q, h.documentID, string(h.stage), percent); err != nil {
		return fmt.Errorf("tracker: update progress %s/%s: %w", h.documentID, h.stage, err)
	}
	if h.tracker.metrics != nil {
		h.tracker.metrics.ProgressWrites.Inc()
	}
	h.tracker.logger.Debug("stage progress", "document_id", h.documentID, "stage", h.stage, "percent", percent, "message", message)
	return nil
}

// Complete marks the stage completed. It always writes, bypassing the
// progress rate limiter, since a final transition must never be dropped.
func (h *Handle) Complete(ctx context.Context) error {
	return h.finish(ctx, core.StageStatusCompleted, "", "completed")
}

// Fail marks the stage failed, recording the error id that explains why.
func (h *Handle) Fail(ctx context.Context, errorID string) error {
	return h.finish(ctx, core.StageStatusFailed, errorID, "failed")
}

// Skip marks the stage skipped (for example, due to lock contention).
func (h *Handle) Skip(ctx context.Context, reason string) error {
	h.tracker.logger.Info("stage skipped", "document_id", h.documentID, "stage", h.stage, "reason", reason)
	return h.finish(ctx, core.StageStatusSkipped, "", "skipped")
}

func (h *Handle) finish(ctx context.Context, status core.StageStatusValue, errorID, metricOutcome string) error {
	if h.closed {
		return nil
	}
	h.closed = true

	now := time.Now()
	var errIDArg interface{}
	if errorID != "" {
		errIDArg = errorID
	}

	progress := 0
	if status == core.StageStatusCompleted {
		progress = 100
	}

	const q = `
		UPDATE stage_status
		SET status = $3, progress = $4, completed_at = $5, last_error_id = $6
		WHERE document_id = $1 AND stage_name = $2`
	if _, err := h.tracker.pool.Exec(ctx, q, h.documentID, string(h.stage), string(status), progress, now, errIDArg); err != nil {
		return fmt.Errorf("tracker: finish stage %s/%s: %w", h.documentID, h.stage, err)
	}

	if h.tracker.metrics != nil {
		h.tracker.metrics.StageDuration.WithLabelValues(string(h.stage), metricOutcome).Observe(now.Sub(h.startedAt).Seconds())
		h.tracker.metrics.StagesByOutcome.WithLabelValues(string(h.stage), metricOutcome).Inc()
	}
	return nil
}
