package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// setupTestPool starts a disposable Postgres container and creates the
// minimal schema stage transitions need, matching migrations/00001 and
// migrations/00002.
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
	CREATE TABLE documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		file_size_bytes BIGINT NOT NULL,
		document_type TEXT NOT NULL,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE stage_status (
		document_id TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
		stage_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		attempt INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		last_error_id TEXT,
		PRIMARY KEY (document_id, stage_name)
	);`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO documents (id, filename, content_hash, file_size_bytes, document_type)
		 VALUES ($1, 'manual.pdf', 'deadbeef', 1024, 'service_manual')`, "doc-tracker-1")
	require.NoError(t, err)

	return pool
}

func TestStartStage_ThenComplete(t *testing.T) {
	pool := setupTestPool(t)
	tr := NewTracker(pool, nil, nil)
	ctx := context.Background()

	handle, err := tr.StartStage(ctx, "doc-tracker-1", core.StageTextExtraction, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Complete(ctx))

	var status string
	var progress int
	err = pool.QueryRow(ctx,
		`SELECT status, progress FROM stage_status WHERE document_id = $1 AND stage_name = $2`,
		"doc-tracker-1", string(core.StageTextExtraction)).Scan(&status, &progress)
	require.NoError(t, err)
	require.Equal(t, string(core.StageStatusCompleted), status)
	require.Equal(t, 100, progress)
}

func TestStartStage_ThenFailRecordsErrorID(t *testing.T) {
	pool := setupTestPool(t)
	tr := NewTracker(pool, nil, nil)
	ctx := context.Background()

	handle, err := tr.StartStage(ctx, "doc-tracker-1", core.StageClassification, 1)
	require.NoError(t, err)
	require.NoError(t, handle.Fail(ctx, "err_abc123"))

	var status, lastErrorID string
	err = pool.QueryRow(ctx,
		`SELECT status, last_error_id FROM stage_status WHERE document_id = $1 AND stage_name = $2`,
		"doc-tracker-1", string(core.StageClassification)).Scan(&status, &lastErrorID)
	require.NoError(t, err)
	require.Equal(t, string(core.StageStatusFailed), status)
	require.Equal(t, "err_abc123", lastErrorID)
}

func TestStartStage_RestartsAfterFailure(t *testing.T) {
	pool := setupTestPool(t)
	tr := NewTracker(pool, nil, nil)
	ctx := context.Background()

	handle, err := tr.StartStage(ctx, "doc-tracker-1", core.StageStorage, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Fail(ctx, "err_1"))

	handle2, err := tr.StartStage(ctx, "doc-tracker-1", core.StageStorage, 1)
	require.NoError(t, err)

	var status string
	var attempt int
	err = pool.QueryRow(ctx,
		`SELECT status, attempt FROM stage_status WHERE document_id = $1 AND stage_name = $2`,
		"doc-tracker-1", string(core.StageStorage)).Scan(&status, &attempt)
	require.NoError(t, err)
	require.Equal(t, string(core.StageStatusProcessing), status)
	require.Equal(t, 1, attempt)

	require.NoError(t, handle2.Complete(ctx))
}

func TestUpdateProgress_ClampsAbove100(t *testing.T) {
	pool := setupTestPool(t)
	tr := NewTracker(pool, nil, nil)
	ctx := context.Background()

	handle, err := tr.StartStage(ctx, "doc-tracker-1", core.StageEmbedding, 0)
	require.NoError(t, err)

	require.NoError(t, handle.UpdateProgress(ctx, 150, "over"))

	var progress int
	err = pool.QueryRow(ctx,
		`SELECT progress FROM stage_status WHERE document_id = $1 AND stage_name = $2`,
		"doc-tracker-1", string(core.StageEmbedding)).Scan(&progress)
	require.NoError(t, err)
	require.Equal(t, 100, progress)

	require.NoError(t, handle.Complete(ctx))
}
