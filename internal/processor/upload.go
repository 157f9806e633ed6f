package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// ErrDuplicateContentHash is returned when an upload's content hash
// already belongs to a different document and the caller did not opt
// into force-reprocessing.
var ErrDuplicateContentHash = errors.New("upload: duplicate content hash")

// UploadProcessor creates the document row and computes its content
// hash. It is the one stage the core owns outright: document creation
// is the seam between "no document yet" and "document exists", and
// every later stage needs a document id to key its own work on.
type UploadProcessor struct {
	pool *pgxpool.Pool
}

// NewUploadProcessor builds an UploadProcessor backed by pool.
func NewUploadProcessor(pool *pgxpool.Pool) *UploadProcessor {
	return &UploadProcessor{pool: pool}
}

func (p *UploadProcessor) RequiredInputs() []string { return []string{"file_path"} }
func (p *UploadProcessor) Outputs() []string        { return []string{"document_id", "content_hash"} }

func (p *UploadProcessor) ResourceProfile() ResourceProfile {
	return ResourceProfile{IOBound: true}
}

func (p *UploadProcessor) Process(ctx context.Context, pctx *core.ProcessingContext) Result {
	data, err := os.ReadFile(pctx.FilePath)
	if err != nil {
		return Result{Err: fmt.Errorf("upload: read %s: %w", pctx.FilePath, err)}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	now := time.Now()

	if !pctx.ForceReprocess {
		var existingID string
		const dupQ = `SELECT id FROM documents WHERE content_hash = $1 AND id != $2 LIMIT 1`
		err := p.pool.QueryRow(ctx, dupQ, hash, pctx.DocumentID).Scan(&existingID)
		if err == nil {
			return Result{Err: fmt.Errorf("%w: matches document %s", ErrDuplicateContentHash, existingID)}
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Result{Err: fmt.Errorf("upload: check content hash %s: %w", hash, err)}
		}
	}

	const q = `
		INSERT INTO documents
			(id, filename, content_hash, file_size_bytes, document_type,
			 manufacturer, series, models, version, language,
			 processing_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'processing',$11,$11)
		ON CONFLICT (id) DO UPDATE SET
			filename = $2, content_hash = $3, file_size_bytes = $4, document_type = $5,
			manufacturer = $6, series = $7, models = $8, version = $9, language = $10,
			processing_status = 'processing', updated_at = $11`

	if _, err := p.pool.Exec(ctx, q,
		pctx.DocumentID, pctx.FilePath, hash, int64(len(data)), string(pctx.DocumentType),
		nullableString(pctx.Manufacturer), nullableString(pctx.Series), pctx.Metadata["models"],
		nullableString(pctx.Version), nullableString(pctx.Language), now,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_documents_content_hash" {
			return Result{Err: fmt.Errorf("%w: concurrent upload raced this check", ErrDuplicateContentHash)}
		}
		return Result{Err: fmt.Errorf("upload: insert document %s: %w", pctx.DocumentID, err)}
	}

	pctx.FileHash = hash
	pctx.FileSize = int64(len(data))

	return Result{Outputs: map[string]interface{}{
		"document_id":   pctx.DocumentID,
		"content_hash":  hash,
		"file_size":     len(data),
	}}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
