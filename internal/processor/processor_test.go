package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

func TestRegistry_GetUnregisteredStageErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(core.StageEmbedding)
	assert.Error(t, err)
}

func TestRegistry_RegisterThenGet(t *testing.T) {
	r := NewRegistry()
	proc := NewPassthroughProcessor(core.StageEmbedding)
	r.Register(core.StageEmbedding, proc)

	got, err := r.Get(core.StageEmbedding)
	require.NoError(t, err)
	assert.Same(t, proc, got)
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first := NewPassthroughProcessor(core.StageStorage)
	second := NewPassthroughProcessor(core.StageStorage)
	r.Register(core.StageStorage, first)
	r.Register(core.StageStorage, second)

	got, err := r.Get(core.StageStorage)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestPassthroughProcessor_SucceedsImmediately(t *testing.T) {
	proc := NewPassthroughProcessor(core.StageLinkExtraction)
	pctx := &core.ProcessingContext{DocumentID: "doc-1"}

	result := proc.Process(context.Background(), pctx)

	assert.NoError(t, result.Err)
	assert.Equal(t, string(core.StageLinkExtraction), result.Outputs["stage"])
	assert.Equal(t, true, result.Outputs["skipped_external"])
}
