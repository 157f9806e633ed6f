// Package processor defines the contract stage implementations satisfy
// and a registry mapping stage name to implementation: register/get
// under a read-write lock, keyed by a closed domain type.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitaliisemenov/docpipeline/internal/core"
)

// ResourceProfile advertises what a processor needs so the scheduler
// can reason about concurrency without running the processor.
type ResourceProfile struct {
	CPUBound    bool
	GPUBound    bool
	IOBound     bool
	MemoryHeavy bool
}

// Result is what a processor returns for one stage attempt. A processor
// never raises a classification decision itself. It returns a plain
// error and lets the classifier decide.
type Result struct {
	Outputs map[string]interface{}
	Err     error
}

// StageProcessor is implemented by every stage's actual work. The core
// ships only two implementations: Upload, which must create the document
// row, and a passthrough placeholder that the wiring layer registers for
// each of the other fourteen stages.
type StageProcessor interface {
	RequiredInputs() []string
	Outputs() []string
	ResourceProfile() ResourceProfile
	Process(ctx context.Context, pctx *core.ProcessingContext) Result
}

// Registry maps a stage name to its processor. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[core.Stage]StageProcessor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[core.Stage]StageProcessor)}
}

// Register binds stage to proc, replacing any existing binding.
func (r *Registry) Register(stage core.Stage, proc StageProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[stage] = proc
}

// Get returns the processor bound to stage, or an error if none is
// registered. An unbound stage is a wiring defect, not a runtime
// condition a caller should silently tolerate.
func (r *Registry) Get(stage core.Stage) (StageProcessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, ok := r.processors[stage]
	if !ok {
		return nil, fmt.Errorf("processor: no processor registered for stage %q", stage)
	}
	return proc, nil
}
