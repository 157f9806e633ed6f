package processor

import (
	"context"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// PassthroughProcessor succeeds immediately without doing any work. It
// stands in for the fourteen stages whose real implementation (PDF
// parsing, OCR, chunking, embedding, search indexing, ...) is owned by
// an external collaborator not part of this engine.
type PassthroughProcessor struct {
	name core.Stage
}

// NewPassthroughProcessor returns a placeholder processor for stage.
func NewPassthroughProcessor(stage core.Stage) *PassthroughProcessor {
	return &PassthroughProcessor{name: stage}
}

func (p *PassthroughProcessor) RequiredInputs() []string { return nil }
func (p *PassthroughProcessor) Outputs() []string        { return nil }

func (p *PassthroughProcessor) ResourceProfile() ResourceProfile {
	return ResourceProfile{IOBound: true}
}

func (p *PassthroughProcessor) Process(ctx context.Context, pctx *core.ProcessingContext) Result {
	return Result{Outputs: map[string]interface{}{"stage": string(p.name), "skipped_external": true}}
}
