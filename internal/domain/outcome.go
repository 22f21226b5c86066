package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeStatus is the terminal state of a single recipient send.
type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "SENT"
	OutcomeFailed OutcomeStatus = "FAILED"
)

func (s OutcomeStatus) String() string { return string(s) }

// SendOutcome is the recorded result for one recipient. It is never mutated after creation.
type SendOutcome struct {
	Recipient         Recipient
	Status            OutcomeStatus
	ProviderMessageID string
	ErrorReason       string
	ErrorCode         string
}

// DispatchResult aggregates the outcomes of one dispatch run.
type DispatchResult struct {
	Provider    Provider
	SentCount   int
	FailedCount int
	Errors      []string
	Details     []SendOutcome
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewDispatchResult allocates a result sized for n recipients.
func NewDispatchResult(provider Provider, n int) *DispatchResult {
	return &DispatchResult{
		Provider: provider,
		Errors:   make([]string, 0),
		Details:  make([]SendOutcome, 0, n),
	}
}

func (r *DispatchResult) RecordSent(recipient Recipient, providerMessageID string) {
	r.SentCount++
	r.Details = append(r.Details, SendOutcome{
		Recipient:         recipient,
		Status:            OutcomeSent,
		ProviderMessageID: providerMessageID,
	})
}

func (r *DispatchResult) RecordFailed(recipient Recipient, reason string, code string) {
	r.FailedCount++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", strings.TrimSpace(recipient.Address), reason))
	r.Details = append(r.Details, SendOutcome{
		Recipient:   recipient,
		Status:      OutcomeFailed,
		ErrorReason: reason,
		ErrorCode:   code,
	})
}

// Total is the number of recipients accounted for.
func (r *DispatchResult) Total() int {
	return r.SentCount + r.FailedCount
}

// RunStatus derives the terminal run status from the counts.
func (r *DispatchResult) RunStatus() RunStatus {
	switch {
	case r.FailedCount == 0:
		return RunStatusCompleted
	case r.SentCount == 0:
		return RunStatusFailed
	default:
		return RunStatusPartialFailure
	}
}

// FailAll marks every recipient failed with the same reason and records a single aggregate
// error instead of one per recipient.
func (r *DispatchResult) FailAll(recipients []Recipient, reason string, code string) {
	for _, recipient := range recipients {
		r.FailedCount++
		r.Details = append(r.Details, SendOutcome{
			Recipient:   recipient,
			Status:      OutcomeFailed,
			ErrorReason: reason,
			ErrorCode:   code,
		})
	}
	r.Errors = append(r.Errors, reason)
}
