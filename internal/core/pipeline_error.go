package core

import "time"

// PipelineErrorStatus is the lifecycle status of a durable error record.
type PipelineErrorStatus string

const (
	PipelineErrorPending  PipelineErrorStatus = "pending"
	PipelineErrorRetrying PipelineErrorStatus = "retrying"
	PipelineErrorResolved PipelineErrorStatus = "resolved"
	PipelineErrorFailed   PipelineErrorStatus = "failed"
)

// PipelineError is the durable record created on every stage failure.
// It is never deleted by the core.
type PipelineError struct {
	ErrorID         string
	DocumentID      string
	StageName       Stage
	ErrorType       string
	Category        ErrorCategory
	Message         string
	StackTrace      string
	Context         map[string]interface{}
	Attempt         int
	MaxAttempts     int
	Status          PipelineErrorStatus
	IsTransient     bool
	CorrelationID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	NextRetryAt     *time.Time
	ResolvedAt      *time.Time
	ResolvedBy      *string
	ResolutionNotes *string
}
