// Package errorlog is the dual-sink error logger: every stage failure is
// both persisted as a PipelineError row and emitted as a structured
// ERROR log line, sharing one error id and correlation id across both
// sinks.
package errorlog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// Logger persists PipelineError records and logs them through slog.
type Logger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLogger builds an error Logger backed by pool.
func NewLogger(pool *pgxpool.Pool, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{pool: pool, logger: logger}
}

// NewErrorID generates an "err_" + 16 hex char identifier, following
// pkg/logger.GenerateRequestID's shape.
func NewErrorID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("err_%d", time.Now().UnixNano())
	}
	return "err_" + hex.EncodeToString(b)
}

// Record persists a new PipelineError for one stage failure and logs it
// at ERROR level. It always captures the current goroutine's stack trace
// for the record.
func (l *Logger) Record(ctx context.Context, pctx *core.ProcessingContext, stage core.Stage, cause error, classification core.ErrorClassification, maxAttempts int) (*core.PipelineError, error) {
	now := time.Now()
	pe := &core.PipelineError{
		ErrorID:       NewErrorID(),
		DocumentID:    pctx.DocumentID,
		StageName:     stage,
		ErrorType:     classification.ErrorType,
		Category:      classification.Category,
		Message:       cause.Error(),
		StackTrace:    string(debug.Stack()),
		Context:       Sanitize(pctx.AsErrorContext()),
		Attempt:       pctx.RetryAttempt,
		MaxAttempts:   maxAttempts,
		Status:        core.PipelineErrorPending,
		IsTransient:   classification.IsTransient,
		CorrelationID: pctx.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	contextJSON, err := json.Marshal(pe.Context)
	if err != nil {
		return nil, fmt.Errorf("errorlog: marshal context: %w", err)
	}

	const q = `
		INSERT INTO pipeline_errors
			(error_id, document_id, stage_name, error_type, category, message,
			 stack_trace, context, attempt, max_attempts, status, is_transient,
			 correlation_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	if _, err := l.pool.Exec(ctx, q,
		pe.ErrorID, pe.DocumentID, string(pe.StageName), pe.ErrorType, string(pe.Category),
		pe.Message, pe.StackTrace, contextJSON, pe.Attempt, pe.MaxAttempts,
		string(pe.Status), pe.IsTransient, pe.CorrelationID, pe.CreatedAt, pe.UpdatedAt,
	); err != nil {
		l.logger.Error("pipeline_errors insert failed",
			"error_id", NewErrorID(),
			"correlation_id", pe.CorrelationID,
			"document_id", pe.DocumentID,
			"stage", stage,
			"cause", err.Error(),
		)
	}

	l.logger.Error("stage failed",
		"error_id", pe.ErrorID,
		"correlation_id", pe.CorrelationID,
		"request_id", pctx.RequestID,
		"stage", stage,
		"document_id", pctx.DocumentID,
		"error_type", pe.ErrorType,
		"error_category", pe.Category,
		"is_transient", pe.IsTransient,
		"attempt", pe.Attempt,
	)

	return pe, nil
}

// UpdateStatus transitions a pipeline error's status, optionally setting
// next_retry_at (nil leaves the column untouched).
func (l *Logger) UpdateStatus(ctx context.Context, errorID string, status core.PipelineErrorStatus, nextRetryAt *time.Time) error {
	const q = `UPDATE pipeline_errors SET status = $2, next_retry_at = COALESCE($3, next_retry_at), updated_at = $4 WHERE error_id = $1`
	if _, err := l.pool.Exec(ctx, q, errorID, string(status), nextRetryAt, time.Now()); err != nil {
		return fmt.Errorf("errorlog: update status %s: %w", errorID, err)
	}
	return nil
}

// MarkResolved marks a pipeline error resolved, recording who resolved
// it and any free-text notes, and appends an audit_log entry since this
// is an operator action outside the pipeline's own control flow.
func (l *Logger) MarkResolved(ctx context.Context, errorID, resolvedBy, notes string) error {
	now := time.Now()
	const q = `
		UPDATE pipeline_errors
		SET status = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5, updated_at = $3
		WHERE error_id = $1
		RETURNING document_id`

	var documentID string
	if err := l.pool.QueryRow(ctx, q, errorID, string(core.PipelineErrorResolved), now, resolvedBy, notes).Scan(&documentID); err != nil {
		return fmt.Errorf("errorlog: mark resolved %s: %w", errorID, err)
	}

	const auditQ = `INSERT INTO audit_log (document_id, error_id, action, actor, notes) VALUES ($1,$2,'resolve_error',$3,$4)`
	if _, err := l.pool.Exec(ctx, auditQ, documentID, errorID, resolvedBy, notes); err != nil {
		return fmt.Errorf("errorlog: audit mark resolved %s: %w", errorID, err)
	}
	return nil
}

// ErrNotFound is returned by ByID when no matching error row exists.
var ErrNotFound = errors.New("errorlog: not found")

// ByID fetches a single pipeline error by its id.
func (l *Logger) ByID(ctx context.Context, errorID string) (*core.PipelineError, error) {
	const q = `
		SELECT error_id, document_id, stage_name, error_type, category, message,
		       stack_trace, context, attempt, max_attempts, status, is_transient,
		       correlation_id, created_at, updated_at, next_retry_at, resolved_at,
		       resolved_by, resolution_notes
		FROM pipeline_errors WHERE error_id = $1`
	row := l.pool.QueryRow(ctx, q, errorID)
	pe, err := scanPipelineError(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return pe, err
}

// ByCorrelationID fetches every pipeline error sharing a correlation id,
// ordered by attempt.
func (l *Logger) ByCorrelationID(ctx context.Context, correlationID string) ([]*core.PipelineError, error) {
	const q = `
		SELECT error_id, document_id, stage_name, error_type, category, message,
		       stack_trace, context, attempt, max_attempts, status, is_transient,
		       correlation_id, created_at, updated_at, next_retry_at, resolved_at,
		       resolved_by, resolution_notes
		FROM pipeline_errors WHERE correlation_id = $1 ORDER BY attempt ASC`
	rows, err := l.pool.Query(ctx, q, correlationID)
	if err != nil {
		return nil, fmt.Errorf("errorlog: query by correlation id: %w", err)
	}
	defer rows.Close()

	var out []*core.PipelineError
	for rows.Next() {
		pe, err := scanPipelineError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

// ListUnresolved returns up to limit pipeline errors not yet resolved,
// most recent first.
func (l *Logger) ListUnresolved(ctx context.Context, limit int) ([]*core.PipelineError, error) {
	const q = `
		SELECT error_id, document_id, stage_name, error_type, category, message,
		       stack_trace, context, attempt, max_attempts, status, is_transient,
		       correlation_id, created_at, updated_at, next_retry_at, resolved_at,
		       resolved_by, resolution_notes
		FROM pipeline_errors
		WHERE status != $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := l.pool.Query(ctx, q, string(core.PipelineErrorResolved), limit)
	if err != nil {
		return nil, fmt.Errorf("errorlog: list unresolved: %w", err)
	}
	defer rows.Close()

	var out []*core.PipelineError
	for rows.Next() {
		pe, err := scanPipelineError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPipelineError(row rowScanner) (*core.PipelineError, error) {
	var pe core.PipelineError
	var stageName, category, status string
	var contextJSON []byte

	err := row.Scan(
		&pe.ErrorID, &pe.DocumentID, &stageName, &pe.ErrorType, &category, &pe.Message,
		&pe.StackTrace, &contextJSON, &pe.Attempt, &pe.MaxAttempts, &status, &pe.IsTransient,
		&pe.CorrelationID, &pe.CreatedAt, &pe.UpdatedAt, &pe.NextRetryAt, &pe.ResolvedAt,
		&pe.ResolvedBy, &pe.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}

	pe.StageName = core.Stage(stageName)
	pe.Category = core.ErrorCategory(category)
	pe.Status = core.PipelineErrorStatus(status)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &pe.Context); err != nil {
			return nil, fmt.Errorf("errorlog: decode context: %w", err)
		}
	}
	return &pe, nil
}
