package dispatch

import (
	"context"

	"github.com/kursadbilgin/campaign-dispatcher/internal/observability"
	"go.uber.org/zap"
)

// Phase is the stage of a run a Progress report describes.
type Phase string

const (
	PhaseSending   Phase = "sending"
	PhaseCompleted Phase = "completed"
)

func (p Phase) String() string { return string(p) }

// Progress is one event of a dispatch run. Current is 1-based; the completion event
// carries Current == Total and an empty Label.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Phase   Phase  `json:"phase"`
	Label   string `json:"label,omitempty"`
}

// ProgressSink receives progress events synchronously. The engine waits for Report to
// return before sending, so implementations must not block indefinitely.
type ProgressSink interface {
	Report(ctx context.Context, progress Progress)
}

// SinkFunc adapts a plain function to ProgressSink.
type SinkFunc func(ctx context.Context, progress Progress)

func (f SinkFunc) Report(ctx context.Context, progress Progress) {
	if f != nil {
		f(ctx, progress)
	}
}

// Sinks fans one event out to every non-nil sink in order.
type Sinks []ProgressSink

func (s Sinks) Report(ctx context.Context, progress Progress) {
	for _, sink := range s {
		if sink != nil {
			sink.Report(ctx, progress)
		}
	}
}

// LogSink writes progress events to a zap logger at debug level and the completion at info.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Report(ctx context.Context, progress Progress) {
	logger := observability.WithContextLogger(s.logger, ctx)
	if progress.Phase == PhaseCompleted {
		logger.Info("dispatch completed", zap.Int("total", progress.Total))
		return
	}

	logger.Debug("dispatch progress",
		zap.Int("current", progress.Current),
		zap.Int("total", progress.Total),
		zap.String("label", observability.RedactAddress(progress.Label)),
	)
}
