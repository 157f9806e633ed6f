package core

import "time"

// OutcomeStatus is the tagged result of one scheduler stage attempt,
// replacing exception-based control flow with an explicit result value.
type OutcomeStatus string

const (
	OutcomeCompleted        OutcomeStatus = "completed"
	OutcomeFailed           OutcomeStatus = "failed"
	OutcomeSkippedDueToLock OutcomeStatus = "skipped_due_to_lock"
	OutcomeRetryScheduled   OutcomeStatus = "retry_scheduled"
)

// StageOutcome is returned by every scheduler operation in the control
// surface.
type StageOutcome struct {
	StageName     Stage
	Status        OutcomeStatus
	ErrorID       string
	CorrelationID string
	StartedAt     time.Time
	EndedAt       time.Time
	Outputs       map[string]interface{}
	NextRetryAt   *time.Time
}
