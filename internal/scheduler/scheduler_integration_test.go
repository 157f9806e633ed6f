package scheduler

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
	"github.com/vitaliisemenov/docpipeline/internal/errorlog"
	"github.com/vitaliisemenov/docpipeline/internal/lock"
	"github.com/vitaliisemenov/docpipeline/internal/policy"
	"github.com/vitaliisemenov/docpipeline/internal/processor"
	"github.com/vitaliisemenov/docpipeline/internal/retryorch"
	"github.com/vitaliisemenov/docpipeline/internal/tracker"
)

type poolHandle struct{ pool *pgxpool.Pool }

func (h *poolHandle) Pool() *pgxpool.Pool { return h.pool }

func setupSchedulerPool(t *testing.T) *pgxpool.Pool {
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
	CREATE TABLE documents (
		id TEXT PRIMARY KEY, filename TEXT NOT NULL, content_hash TEXT NOT NULL,
		file_size_bytes BIGINT NOT NULL, document_type TEXT NOT NULL,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE stage_status (
		document_id TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
		stage_name TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0, attempt INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ, completed_at TIMESTAMPTZ, last_error_id TEXT,
		PRIMARY KEY (document_id, stage_name)
	);
	CREATE TABLE pipeline_errors (
		error_id TEXT PRIMARY KEY, document_id TEXT NOT NULL, stage_name TEXT NOT NULL,
		error_type TEXT NOT NULL, category TEXT NOT NULL, message TEXT NOT NULL,
		stack_trace TEXT, context JSONB, attempt INTEGER NOT NULL, max_attempts INTEGER NOT NULL,
		status TEXT NOT NULL, is_transient BOOLEAN NOT NULL, correlation_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL,
		next_retry_at TIMESTAMPTZ, resolved_at TIMESTAMPTZ, resolved_by TEXT, resolution_notes TEXT
	);
	CREATE TABLE retry_policies (
		component TEXT NOT NULL, stage_name TEXT NOT NULL, max_retries INTEGER NOT NULL,
		base_delay_seconds DOUBLE PRECISION NOT NULL, max_delay_seconds DOUBLE PRECISION NOT NULL,
		backoff_multiplier DOUBLE PRECISION NOT NULL, jitter_fraction DOUBLE PRECISION NOT NULL,
		retry_on JSONB NOT NULL, PRIMARY KEY (component, stage_name)
	);`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO documents (id, filename, content_hash, file_size_bytes, document_type)
		 VALUES ($1, 'manual.pdf', 'deadbeef', 2048, 'service_manual')`, "doc-sched-1")
	require.NoError(t, err)

	return pool
}

// succeedingProcessor always completes; failingProcessor always fails
// with the error it was built with.
type succeedingProcessor struct{}

func (succeedingProcessor) RequiredInputs() []string                  { return nil }
func (succeedingProcessor) Outputs() []string                         { return nil }
func (succeedingProcessor) ResourceProfile() processor.ResourceProfile { return processor.ResourceProfile{} }
func (succeedingProcessor) Process(ctx context.Context, pctx *core.ProcessingContext) processor.Result {
	return processor.Result{Outputs: map[string]interface{}{"ok": true}}
}

type failingProcessor struct{ err error }

func (f failingProcessor) RequiredInputs() []string                 { return nil }
func (f failingProcessor) Outputs() []string                        { return nil }
func (f failingProcessor) ResourceProfile() processor.ResourceProfile { return processor.ResourceProfile{} }
func (f failingProcessor) Process(ctx context.Context, pctx *core.ProcessingContext) processor.Result {
	return processor.Result{Err: f.err}
}

func newTestScheduler(t *testing.T, pool *pgxpool.Pool, registry *processor.Registry) *Scheduler {
	locks := lock.NewManager(&poolHandle{pool: pool}, nil, nil)
	trk := tracker.NewTracker(pool, nil, nil)
	errs := errorlog.NewLogger(pool, nil)
	policies := policy.NewStore(pool, nil, time.Minute, nil)
	retry := retryorch.NewOrchestrator(nil, nil)
	return New(pool, locks, trk, errs, policies, retry, registry, Config{MaxConcurrentDocuments: 2}, nil)
}

func TestRunStage_CompletesOnSuccess(t *testing.T) {
	pool := setupSchedulerPool(t)
	registry := processor.NewRegistry()
	registry.Register(core.StageTextExtraction, succeedingProcessor{})
	sched := newTestScheduler(t, pool, registry)

	pctx := &core.ProcessingContext{DocumentID: "doc-sched-1", RequestID: "req-1"}
	outcome, err := sched.RunStage(context.Background(), "doc-sched-1", core.StageTextExtraction, pctx)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeCompleted, outcome.Status)
	require.True(t, core.IsValidCorrelationID(outcome.CorrelationID))
}

func TestRunStage_SkipsWhenLockContended(t *testing.T) {
	pool := setupSchedulerPool(t)
	registry := processor.NewRegistry()
	registry.Register(core.StageStorage, succeedingProcessor{})
	sched := newTestScheduler(t, pool, registry)
	ctx := context.Background()

	holder := lock.NewManager(&poolHandle{pool: pool}, nil, nil)
	acquired, err := holder.TryAcquire(ctx, "doc-sched-1", core.StageStorage)
	require.NoError(t, err)
	require.True(t, acquired)
	defer holder.Release(ctx, "doc-sched-1", core.StageStorage)

	pctx := &core.ProcessingContext{DocumentID: "doc-sched-1", RequestID: "req-2"}
	outcome, err := sched.RunStage(ctx, "doc-sched-1", core.StageStorage, pctx)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeSkippedDueToLock, outcome.Status)
}

func TestRunStage_PermanentFailureRecordsErrorAndDoesNotRetry(t *testing.T) {
	pool := setupSchedulerPool(t)
	registry := processor.NewRegistry()
	registry.Register(core.StageClassification, failingProcessor{err: errors.New("validation: missing field")})
	sched := newTestScheduler(t, pool, registry)
	ctx := context.Background()

	pctx := &core.ProcessingContext{DocumentID: "doc-sched-1", RequestID: "req-3"}
	outcome, err := sched.RunStage(ctx, "doc-sched-1", core.StageClassification, pctx)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeFailed, outcome.Status)
	require.NotEmpty(t, outcome.ErrorID)

	st, err := sched.StageStatus(ctx, "doc-sched-1", core.StageClassification)
	require.NoError(t, err)
	require.Equal(t, core.StageStatusFailed, st.Status)
}

func TestRunStage_TransientFailureSchedulesRetry(t *testing.T) {
	pool := setupSchedulerPool(t)
	registry := processor.NewRegistry()
	registry.Register(core.StageEmbedding, failingProcessor{err: errors.New("connection reset by peer")})
	sched := newTestScheduler(t, pool, registry)
	ctx := context.Background()

	pctx := &core.ProcessingContext{DocumentID: "doc-sched-1", RequestID: "req-4"}
	outcome, err := sched.RunStage(ctx, "doc-sched-1", core.StageEmbedding, pctx)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeRetryScheduled, outcome.Status)
	require.NotNil(t, outcome.NextRetryAt)

	var status string
	var nextRetryAt time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status, next_retry_at FROM pipeline_errors WHERE error_id = $1`, outcome.ErrorID,
	).Scan(&status, &nextRetryAt))
	require.Equal(t, string(core.PipelineErrorRetrying), status)
	require.WithinDuration(t, *outcome.NextRetryAt, nextRetryAt, time.Second)
}

// TestRunStage_UploadOnBrandNewDocumentCompletes is the happy-path
// scenario of running the upload stage on a document id that has never
// appeared in the documents table before. stage_status.document_id is a
// NOT NULL foreign key into documents, so this must succeed without a
// foreign-key violation.
func TestRunStage_UploadOnBrandNewDocumentCompletes(t *testing.T) {
	pool := setupSchedulerPool(t)
	registry := processor.NewRegistry()
	registry.Register(core.StageUpload, succeedingProcessor{})
	sched := newTestScheduler(t, pool, registry)
	ctx := context.Background()

	pctx := &core.ProcessingContext{DocumentID: "doc-brand-new", RequestID: "req-new"}
	outcome, err := sched.RunStage(ctx, "doc-brand-new", core.StageUpload, pctx)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeCompleted, outcome.Status)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE id = $1`, "doc-brand-new").Scan(&count))
	require.Equal(t, 1, count)
}

func TestSmartResume_SkipsAlreadyCompletedStages(t *testing.T) {
	pool := setupSchedulerPool(t)
	registry := processor.NewRegistry()
	for _, stage := range core.CanonicalStageOrder {
		registry.Register(stage, succeedingProcessor{})
	}
	sched := newTestScheduler(t, pool, registry)
	ctx := context.Background()

	pctx := &core.ProcessingContext{DocumentID: "doc-sched-1", RequestID: "req-5"}
	_, err := sched.RunStage(ctx, "doc-sched-1", core.StageUpload, pctx)
	require.NoError(t, err)

	outcomes, err := sched.SmartResume(ctx, "doc-sched-1", pctx)
	require.NoError(t, err)
	for _, outcome := range outcomes {
		require.NotEqual(t, core.StageUpload, outcome.StageName)
	}
}
