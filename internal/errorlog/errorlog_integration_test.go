package errorlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

func setupTestPool(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("docpipeline_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema := `
	CREATE TABLE pipeline_errors (
		error_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		stage_name TEXT NOT NULL,
		error_type TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		stack_trace TEXT,
		context JSONB,
		attempt INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		is_transient BOOLEAN NOT NULL,
		correlation_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		next_retry_at TIMESTAMPTZ,
		resolved_at TIMESTAMPTZ,
		resolved_by TEXT,
		resolution_notes TEXT
	);
	CREATE TABLE audit_log (
		id BIGSERIAL PRIMARY KEY,
		document_id TEXT,
		error_id TEXT,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func testPctx() *core.ProcessingContext {
	return &core.ProcessingContext{
		DocumentID:    "doc-err-1",
		RequestID:     "req-1",
		CorrelationID: core.NewCorrelationID("req-1", core.StageClassification, 0),
		RetryAttempt:  0,
		Metadata:      map[string]interface{}{"password": "hunter2", "note": "ok"},
	}
}

func TestRecord_PersistsAndSanitizesContext(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()

	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryDatabase, IsTransient: true}
	pe, err := logger.Record(ctx, testPctx(), core.StageClassification, errors.New("connection reset"), classification, 3)
	require.NoError(t, err)
	require.NotEmpty(t, pe.ErrorID)

	fetched, err := logger.ByID(ctx, pe.ErrorID)
	require.NoError(t, err)
	require.Equal(t, core.StageClassification, fetched.StageName)
	require.Equal(t, core.CategoryDatabase, fetched.Category)
	require.Equal(t, core.PipelineErrorPending, fetched.Status)

	metadata := fetched.Context["metadata"].(map[string]interface{})
	require.Equal(t, redactionValue, metadata["password"])
	require.Equal(t, "ok", metadata["note"])
}

func TestByID_NotFoundReturnsSentinel(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)

	_, err := logger.ByID(context.Background(), "err_doesnotexist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestByCorrelationID_OrdersByAttempt(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()
	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryTimeout, IsTransient: true}

	correlationID := core.NewCorrelationID("req-2", core.StageStorage, 0)
	for attempt := 0; attempt < 3; attempt++ {
		pctx := testPctx()
		pctx.CorrelationID = correlationID
		pctx.RetryAttempt = attempt
		_, err := logger.Record(ctx, pctx, core.StageStorage, errors.New("timeout"), classification, 3)
		require.NoError(t, err)
	}

	rows, err := logger.ByCorrelationID(ctx, correlationID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		require.Equal(t, i, row.Attempt)
	}
}

func TestUpdateStatus_PersistsNextRetryAt(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()

	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryNetwork, IsTransient: true}
	pe, err := logger.Record(ctx, testPctx(), core.StageStorage, errors.New("reset"), classification, 3)
	require.NoError(t, err)

	nextRetryAt := time.Now().Add(30 * time.Second).Truncate(time.Millisecond)
	require.NoError(t, logger.UpdateStatus(ctx, pe.ErrorID, core.PipelineErrorRetrying, &nextRetryAt))

	fetched, err := logger.ByID(ctx, pe.ErrorID)
	require.NoError(t, err)
	require.Equal(t, core.PipelineErrorRetrying, fetched.Status)
	require.NotNil(t, fetched.NextRetryAt)
	require.WithinDuration(t, nextRetryAt, *fetched.NextRetryAt, time.Millisecond)
}

func TestUpdateStatus_NilNextRetryAtLeavesColumnUntouched(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()

	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryNetwork, IsTransient: true}
	pe, err := logger.Record(ctx, testPctx(), core.StageStorage, errors.New("reset"), classification, 3)
	require.NoError(t, err)

	nextRetryAt := time.Now().Add(30 * time.Second).Truncate(time.Millisecond)
	require.NoError(t, logger.UpdateStatus(ctx, pe.ErrorID, core.PipelineErrorRetrying, &nextRetryAt))
	require.NoError(t, logger.UpdateStatus(ctx, pe.ErrorID, core.PipelineErrorResolved, nil))

	fetched, err := logger.ByID(ctx, pe.ErrorID)
	require.NoError(t, err)
	require.Equal(t, core.PipelineErrorResolved, fetched.Status)
	require.NotNil(t, fetched.NextRetryAt)
	require.WithinDuration(t, nextRetryAt, *fetched.NextRetryAt, time.Millisecond)
}

func TestRecord_StillReturnsWellFormedErrorWhenInsertFails(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()
	pool.Close() // force the INSERT to fail while the logger itself stays usable

	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryInternal, IsTransient: false}
	pe, err := logger.Record(ctx, testPctx(), core.StageStorage, errors.New("boom"), classification, 1)
	require.NoError(t, err)
	require.NotNil(t, pe)
	require.NotEmpty(t, pe.ErrorID)
}

func TestMarkResolved_WritesAuditLogEntry(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()

	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryInternal, IsTransient: false}
	pe, err := logger.Record(ctx, testPctx(), core.StageStorage, errors.New("panic: nil pointer"), classification, 1)
	require.NoError(t, err)

	require.NoError(t, logger.MarkResolved(ctx, pe.ErrorID, "operator-1", "manually verified output"))

	fetched, err := logger.ByID(ctx, pe.ErrorID)
	require.NoError(t, err)
	require.Equal(t, core.PipelineErrorResolved, fetched.Status)
	require.Equal(t, "operator-1", *fetched.ResolvedBy)

	var action, actor string
	err = pool.QueryRow(ctx,
		`SELECT action, actor FROM audit_log WHERE error_id = $1`, pe.ErrorID).Scan(&action, &actor)
	require.NoError(t, err)
	require.Equal(t, "resolve_error", action)
	require.Equal(t, "operator-1", actor)
}

func TestListUnresolved_ExcludesResolved(t *testing.T) {
	pool := setupTestPool(t)
	logger := NewLogger(pool, nil)
	ctx := context.Background()
	classification := core.ErrorClassification{ErrorType: "error", Category: core.CategoryNetwork, IsTransient: true}

	resolved, err := logger.Record(ctx, testPctx(), core.StageStorage, errors.New("reset"), classification, 3)
	require.NoError(t, err)
	require.NoError(t, logger.MarkResolved(ctx, resolved.ErrorID, "operator-2", ""))

	pending, err := logger.Record(ctx, testPctx(), core.StageEmbedding, errors.New("reset"), classification, 3)
	require.NoError(t, err)

	rows, err := logger.ListUnresolved(ctx, 10)
	require.NoError(t, err)

	var ids []string
	for _, row := range rows {
		ids = append(ids, row.ErrorID)
	}
	require.Contains(t, ids, pending.ErrorID)
	require.NotContains(t, ids, resolved.ErrorID)
}
