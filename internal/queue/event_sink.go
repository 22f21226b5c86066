package queue

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"go.uber.org/zap"
)

const (
	progressPublishTimeout  = 500 * time.Millisecond
	completedPublishTimeout = 5 * time.Second
)

// EventSink mirrors the progress of one run onto the events exchange. Publish failures
// are logged and never interrupt the run.
type EventSink struct {
	publisher Publisher
	runID     string
	provider  domain.Provider
	logger    *zap.Logger
	now       func() time.Time

	progressTimeout  time.Duration
	completedTimeout time.Duration
}

func NewEventSink(publisher Publisher, runID string, provider domain.Provider, logger *zap.Logger) *EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSink{
		publisher: publisher,
		runID:     runID,
		provider:  provider,
		logger:    logger,
		now:       time.Now,

		progressTimeout:  progressPublishTimeout,
		completedTimeout: completedPublishTimeout,
	}
}

// Report publishes sending steps only; the completion is published by Completed once the
// run's counts are known.
func (s *EventSink) Report(ctx context.Context, progress dispatch.Progress) {
	if progress.Phase != dispatch.PhaseSending {
		return
	}

	s.publish(ctx, RunEvent{
		RunID:      s.runID,
		Provider:   s.provider,
		Kind:       EventKindProgress,
		Current:    progress.Current,
		Total:      progress.Total,
		Label:      progress.Label,
		OccurredAt: s.now().UTC(),
	})
}

func (s *EventSink) Completed(ctx context.Context, result domain.DispatchResult) {
	s.publish(ctx, RunEvent{
		RunID:       s.runID,
		Provider:    s.provider,
		Kind:        EventKindCompleted,
		Current:     result.Total(),
		Total:       result.Total(),
		Status:      result.RunStatus(),
		SentCount:   result.SentCount,
		FailedCount: result.FailedCount,
		OccurredAt:  s.now().UTC(),
	})
}

func (s *EventSink) publish(ctx context.Context, event RunEvent) {
	if s == nil || s.publisher == nil {
		return
	}

	timeout := s.progressTimeout
	if event.Kind == EventKindCompleted {
		timeout = s.completedTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish run event",
			zap.String("runId", event.RunID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
	}
}
