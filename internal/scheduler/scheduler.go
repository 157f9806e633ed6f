// Package scheduler implements the pipeline's control surface: run one
// stage, a list of stages, every stage, or resume a document at its
// first incomplete stage. It acquires the advisory lock, tracks
// progress, classifies failures, and schedules retries around each
// stage processor's actual work.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/docpipeline/internal/classifier"
	"github.com/vitaliisemenov/docpipeline/internal/core"
	"github.com/vitaliisemenov/docpipeline/internal/errorlog"
	"github.com/vitaliisemenov/docpipeline/internal/lock"
	"github.com/vitaliisemenov/docpipeline/internal/policy"
	"github.com/vitaliisemenov/docpipeline/internal/processor"
	"github.com/vitaliisemenov/docpipeline/internal/retryorch"
	"github.com/vitaliisemenov/docpipeline/internal/tracker"
)

// policyComponent names the (component, stage) pair's component half
// for every lookup the scheduler makes; processors may register their
// own finer-grained components later if needed.
const policyComponent = "scheduler"

// Scheduler wires the lock manager, tracker, error logger, policy
// store, classifier, retry orchestrator and processor registry into the
// six control-surface operations.
type Scheduler struct {
	pool        *pgxpool.Pool
	locks       *lock.Manager
	tracker     *tracker.Tracker
	errors      *errorlog.Logger
	policies    *policy.Store
	retry       *retryorch.Orchestrator
	registry    *processor.Registry
	logger      *slog.Logger
	documentSem chan struct{}
}

// Config holds the scheduler's own tunables.
type Config struct {
	MaxConcurrentDocuments int
}

// New builds a Scheduler from its already-constructed collaborators.
func New(
	pool *pgxpool.Pool,
	locks *lock.Manager,
	trk *tracker.Tracker,
	errs *errorlog.Logger,
	policies *policy.Store,
	retry *retryorch.Orchestrator,
	registry *processor.Registry,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := cfg.MaxConcurrentDocuments
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Scheduler{
		pool: pool, locks: locks, tracker: trk, errors: errs, policies: policies,
		retry: retry, registry: registry, logger: logger,
		documentSem: make(chan struct{}, maxConcurrent),
	}
}

// RunStage runs one stage of one document: it acquires the advisory
// lock, invokes the registered processor, and on failure classifies the
// error and either schedules a background retry or records the stage as
// terminally failed. A contended lock returns OutcomeSkippedDueToLock,
// never an error: that's the normal outcome when another attempt is
// already in flight for the same (document, stage).
func (s *Scheduler) RunStage(ctx context.Context, documentID string, stage core.Stage, pctx *core.ProcessingContext) (core.StageOutcome, error) {
	attempt, err := s.currentAttempt(ctx, documentID, stage)
	if err != nil {
		return core.StageOutcome{}, err
	}

	pctx.DocumentID = documentID
	pctx.RetryAttempt = attempt
	pctx.CorrelationID = s.retry.GenerateCorrelationID(pctx.RequestID, stage, attempt)

	started := time.Now()

	acquired, err := s.locks.TryAcquire(ctx, documentID, stage)
	if err != nil {
		return core.StageOutcome{}, err
	}
	if !acquired {
		if h, hErr := s.tracker.StartStage(ctx, documentID, stage, attempt); hErr == nil {
			_ = h.Skip(ctx, "lock contended")
		}
		return core.StageOutcome{
			StageName: stage, Status: core.OutcomeSkippedDueToLock,
			CorrelationID: pctx.CorrelationID, StartedAt: started, EndedAt: time.Now(),
		}, nil
	}
	defer func() {
		if relErr := s.locks.Release(ctx, documentID, stage); relErr != nil {
			s.logger.Warn("lock release failed", "document_id", documentID, "stage", stage, "error", relErr)
		}
	}()

	return s.runLocked(ctx, documentID, stage, pctx, attempt, started)
}

func (s *Scheduler) runLocked(ctx context.Context, documentID string, stage core.Stage, pctx *core.ProcessingContext, attempt int, started time.Time) (core.StageOutcome, error) {
	if err := s.ensureDocumentRow(ctx, documentID, pctx); err != nil {
		return core.StageOutcome{}, err
	}

	handle, err := s.tracker.StartStage(ctx, documentID, stage, attempt)
	if err != nil {
		return core.StageOutcome{}, err
	}

	proc, err := s.registry.Get(stage)
	if err != nil {
		return core.StageOutcome{}, err
	}

	result := proc.Process(ctx, pctx)
	if result.Err == nil {
		if err := handle.Complete(ctx); err != nil {
			return core.StageOutcome{}, err
		}
		return core.StageOutcome{
			StageName: stage, Status: core.OutcomeCompleted, CorrelationID: pctx.CorrelationID,
			StartedAt: started, EndedAt: time.Now(), Outputs: result.Outputs,
		}, nil
	}

	classification := classifier.Classify(result.Err, string(stage))
	pol, err := s.policies.GetPolicy(ctx, policyComponent, stage)
	if err != nil {
		return core.StageOutcome{}, err
	}

	pe, err := s.errors.Record(ctx, pctx, stage, result.Err, classification, pol.MaxRetries)
	if err != nil {
		return core.StageOutcome{}, err
	}
	if err := handle.Fail(ctx, pe.ErrorID); err != nil {
		return core.StageOutcome{}, err
	}

	if s.retry.ShouldRetry(classification, attempt, pol) {
		delay := s.retry.ComputeDelay(attempt, classification, pol)
		nextAttempt := attempt + 1
		cloned := pctx.Clone()

		s.retry.SpawnBackgroundRetry(stage, pctx.RequestID, nextAttempt, delay, func(ctx context.Context, retryAttempt int, correlationID string) error {
			cloned.RetryAttempt = retryAttempt
			cloned.CorrelationID = correlationID
			_, err := s.RunStage(ctx, documentID, stage, cloned)
			return err
		})

		nextRetryAt := time.Now().Add(delay)
		if err := s.errors.UpdateStatus(ctx, pe.ErrorID, core.PipelineErrorRetrying, &nextRetryAt); err != nil {
			s.logger.Warn("failed to persist next_retry_at", "error_id", pe.ErrorID, "document_id", documentID, "stage", stage, "error", err)
		}

		return core.StageOutcome{
			StageName: stage, Status: core.OutcomeRetryScheduled, ErrorID: pe.ErrorID,
			CorrelationID: pctx.CorrelationID, StartedAt: started, EndedAt: time.Now(),
			NextRetryAt: &nextRetryAt,
		}, nil
	}

	s.retry.RecordExhausted(stage, classification.Category)
	return core.StageOutcome{
		StageName: stage, Status: core.OutcomeFailed, ErrorID: pe.ErrorID,
		CorrelationID: pctx.CorrelationID, StartedAt: started, EndedAt: time.Now(),
	}, nil
}

// ensureDocumentRow upserts a placeholder documents row before the first
// stage_status insert for documentID. stage_status.document_id is a NOT
// NULL foreign key into documents, so running any stage, including
// upload itself, on a brand-new document would otherwise violate that
// constraint before the upload processor ever gets to create the real
// row. The upload processor's own INSERT ... ON CONFLICT overwrites every
// column once it runs; every other stage relies on the document already
// existing by the time it is scheduled.
func (s *Scheduler) ensureDocumentRow(ctx context.Context, documentID string, pctx *core.ProcessingContext) error {
	// content_hash carries a per-document placeholder, not an empty
	// string: idx_documents_content_hash is unique, and an empty string
	// would collide across every brand-new document created concurrently.
	placeholderHash := "pending:" + documentID

	const q = `
		INSERT INTO documents (id, filename, content_hash, file_size_bytes, document_type, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, now(), now())
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, documentID, pctx.FilePath, placeholderHash, string(pctx.DocumentType)); err != nil {
		return fmt.Errorf("scheduler: ensure document row %s: %w", documentID, err)
	}
	return nil
}

// currentAttempt returns the attempt number for the next run of
// (documentID, stage): zero for a stage never run, one past the stored
// attempt when that attempt failed, otherwise the stored attempt.
func (s *Scheduler) currentAttempt(ctx context.Context, documentID string, stage core.Stage) (int, error) {
	const q = `SELECT attempt, status FROM stage_status WHERE document_id = $1 AND stage_name = $2`
	var attempt int
	var status string
	err := s.pool.QueryRow(ctx, q, documentID, string(stage)).Scan(&attempt, &status)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scheduler: read attempt %s/%s: %w", documentID, stage, err)
	}
	if core.StageStatusValue(status) == core.StageStatusFailed {
		attempt++
	}
	return attempt, nil
}

// RunStages runs each stage in order for one document, stopping at the
// first stage that did not complete (failed, skipped due to lock, or
// scheduled for retry).
func (s *Scheduler) RunStages(ctx context.Context, documentID string, stages []core.Stage, pctx *core.ProcessingContext) ([]core.StageOutcome, error) {
	s.documentSem <- struct{}{}
	defer func() { <-s.documentSem }()

	var outcomes []core.StageOutcome
	for _, stage := range stages {
		outcome, err := s.RunStage(ctx, documentID, stage, pctx)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
		if outcome.Status != core.OutcomeCompleted {
			break
		}
	}
	return outcomes, nil
}

// RunAll runs every stage in canonical order for a document.
func (s *Scheduler) RunAll(ctx context.Context, documentID string, pctx *core.ProcessingContext) ([]core.StageOutcome, error) {
	return s.RunStages(ctx, documentID, core.CanonicalStageOrder, pctx)
}

// SmartResume runs the stages from the first one not already completed,
// skipping everything the document has already finished.
func (s *Scheduler) SmartResume(ctx context.Context, documentID string, pctx *core.ProcessingContext) ([]core.StageOutcome, error) {
	statuses, err := s.ListStages(ctx, documentID)
	if err != nil {
		return nil, err
	}

	completed := make(map[core.Stage]bool, len(statuses))
	for _, st := range statuses {
		if st.Status == core.StageStatusCompleted {
			completed[st.StageName] = true
		}
	}

	var remaining []core.Stage
	for _, stage := range core.CanonicalStageOrder {
		if !completed[stage] {
			remaining = append(remaining, stage)
		}
	}

	return s.RunStages(ctx, documentID, remaining, pctx)
}

// StageStatus returns the current status of one (document, stage) pair.
func (s *Scheduler) StageStatus(ctx context.Context, documentID string, stage core.Stage) (*core.StageStatus, error) {
	const q = `
		SELECT document_id, stage_name, status, progress, attempt,
		       started_at, completed_at, last_error_id
		FROM stage_status WHERE document_id = $1 AND stage_name = $2`
	row := s.pool.QueryRow(ctx, q, documentID, string(stage))
	return scanStageStatus(row)
}

// ListStages returns every recorded stage status for a document, in
// canonical stage order.
func (s *Scheduler) ListStages(ctx context.Context, documentID string) ([]core.StageStatus, error) {
	const q = `
		SELECT document_id, stage_name, status, progress, attempt,
		       started_at, completed_at, last_error_id
		FROM stage_status WHERE document_id = $1`
	rows, err := s.pool.Query(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list stages %s: %w", documentID, err)
	}
	defer rows.Close()

	byStage := make(map[core.Stage]core.StageStatus)
	for rows.Next() {
		st, err := scanStageStatus(rows)
		if err != nil {
			return nil, err
		}
		byStage[st.StageName] = *st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]core.StageStatus, 0, len(core.CanonicalStageOrder))
	for _, stage := range core.CanonicalStageOrder {
		if st, ok := byStage[stage]; ok {
			ordered = append(ordered, st)
		}
	}
	return ordered, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStageStatus(row rowScanner) (*core.StageStatus, error) {
	var st core.StageStatus
	var stageName, status string
	if err := row.Scan(&st.DocumentID, &stageName, &status, &st.Progress, &st.Attempt,
		&st.StartedAt, &st.CompletedAt, &st.LastErrorID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scheduler: scan stage status: %w", err)
	}
	st.StageName = core.Stage(stageName)
	st.Status = core.StageStatusValue(status)
	return &st, nil
}
