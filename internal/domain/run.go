package domain

import "time"

// RunStatus represents the processing state of an asynchronous dispatch run.
type RunStatus string

const (
	RunStatusRunning        RunStatus = "RUNNING"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusPartialFailure RunStatus = "PARTIAL_FAILURE"
	RunStatusFailed         RunStatus = "FAILED"
)

func (s RunStatus) String() string { return string(s) }

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartialFailure, RunStatusFailed:
		return true
	}
	return false
}

// DispatchRun is the persisted record of an asynchronous dispatch run.
type DispatchRun struct {
	ID          string
	Provider    Provider
	Status      RunStatus
	TotalCount  int
	SentCount   int
	FailedCount int
	Errors      []string
	Outcomes    []SendOutcome
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}
