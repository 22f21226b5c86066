package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

type EventKind string

const (
	EventKindProgress  EventKind = "progress"
	EventKindCompleted EventKind = "completed"
)

func (k EventKind) IsValid() bool {
	return k == EventKindProgress || k == EventKindCompleted
}

// RunEvent is the broker payload describing a step or the end of a dispatch run.
type RunEvent struct {
	RunID       string           `json:"runId"`
	Provider    domain.Provider  `json:"provider"`
	Kind        EventKind        `json:"kind"`
	Current     int              `json:"current,omitempty"`
	Total       int              `json:"total"`
	Label       string           `json:"label,omitempty"`
	Status      domain.RunStatus `json:"status,omitempty"`
	SentCount   int              `json:"sentCount,omitempty"`
	FailedCount int              `json:"failedCount,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

func (e RunEvent) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("runId is required")
	}
	if !e.Provider.IsValid() {
		return fmt.Errorf("invalid provider %q", e.Provider)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.Kind == EventKindCompleted && !e.Status.IsTerminal() {
		return fmt.Errorf("completed event requires a terminal status, got %q", e.Status)
	}
	return nil
}
