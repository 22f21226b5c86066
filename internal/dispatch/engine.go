// Package dispatch sends one campaign to an ordered list of recipients, one at a time,
// and accounts for every recipient exactly once.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"github.com/kursadbilgin/campaign-dispatcher/internal/observability"
	"github.com/kursadbilgin/campaign-dispatcher/internal/provider"
	"github.com/kursadbilgin/campaign-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/campaign-dispatcher/internal/render"
	"go.uber.org/zap"
)

const (
	// DefaultChatDelay is the pause between chat sends when CHAT_SEND_DELAY is unset.
	DefaultChatDelay = 500 * time.Millisecond
	// DefaultEmailDelay is the pause between email sends when EMAIL_SEND_DELAY is unset.
	DefaultEmailDelay = 200 * time.Millisecond

	// TestMessageBody is sent by SendTest so the recipient can recognise a smoke test.
	TestMessageBody = "Hello {prénom}, this is a test message from the campaign dispatcher."

	reasonCanceled   = "dispatch canceled"
	reasonUnexpected = "unexpected failure"
)

// ConfigSource yields the provider credentials for a run. *credentials.Accessor satisfies it.
type ConfigSource[C credentials.Credentials] interface {
	Get(ctx context.Context) C
}

// Options holds the optional collaborators of an Engine.
type Options struct {
	// Delay between consecutive sends. Zero disables the pause.
	Delay time.Duration
	// Throttle, when set, is awaited before every send.
	Throttle ratelimit.RateLimiter
	Logger   *zap.Logger
}

// Engine runs bulk dispatches for one provider. An Engine holds no per-run state and may be
// shared, but overlapping runs are not coordinated with each other beyond the throttle.
type Engine[C credentials.Credentials] struct {
	provider domain.Provider
	config   ConfigSource[C]
	sender   provider.Sender[C]
	renderer render.Renderer
	delay    time.Duration
	throttle ratelimit.RateLimiter
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewEngine builds the dispatcher for one provider. A negative opts.Delay is treated as zero.
func NewEngine[C credentials.Credentials](
	kind domain.Provider,
	config ConfigSource[C],
	sender provider.Sender[C],
	renderer render.Renderer,
	opts Options,
) (*Engine[C], error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, kind)
	}
	if config == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine[C]{
		provider: kind,
		config:   config,
		sender:   sender,
		renderer: renderer,
		delay:    delay,
		throttle: opts.Throttle,
		logger:   logger.With(zap.String("provider", kind.String())),
		now:      time.Now,
		sleep:    sleepWithContext,
	}, nil
}

func (e *Engine[C]) Provider() domain.Provider { return e.provider }

func (e *Engine[C]) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Dispatch sends campaign to every recipient in order. It never returns an error: every
// failure is recorded in the result, and SentCount+FailedCount always equals
// len(recipients). sink may be nil.
func (e *Engine[C]) Dispatch(
	ctx context.Context,
	recipients []domain.Recipient,
	campaign domain.Campaign,
	sink ProgressSink,
) domain.DispatchResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = Sinks(nil)
	}

	logger := observability.WithContextLogger(e.logger, ctx)
	total := len(recipients)
	result := domain.NewDispatchResult(e.provider, total)
	result.StartedAt = e.now().UTC()

	creds := e.config.Get(ctx)
	if !creds.IsComplete() {
		logger.Warn("dispatch skipped, provider not configured", zap.Int("recipients", total))
		result.FailAll(recipients, domain.ErrNotConfigured.Error(), "")
		e.countFailures(failureLabel(domain.ErrNotConfigured.Error()), total)
		return e.finish(ctx, result, sink, total)
	}

	logger.Info("dispatch started", zap.Int("recipients", total))

	for i, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			e.cancelRemaining(result, recipients[i:])
			logger.Warn("dispatch canceled", zap.Int("remaining", total-i), zap.Error(err))
			break
		}

		e.report(ctx, sink, Progress{
			Current: i + 1,
			Total:   total,
			Phase:   PhaseSending,
			Label:   recipient.Label(),
		})

		msg := provider.Message{
			Text:     e.renderer.Render(campaign.Body, recipient.Name, campaign.MediaURL),
			MediaURL: campaign.MediaURL,
			Subject:  campaign.Subject,
		}

		resp, err := e.sendOne(ctx, creds, recipient, msg)
		if err != nil {
			reason := provider.Reason(err)
			transient := provider.IsTransient(err)
			result.RecordFailed(recipient, reason, provider.Code(err))
			e.countFailures(sendFailureLabel(reason, transient), 1)
			logger.Info("recipient failed",
				observability.Recipient(i+1, recipient.Address),
				zap.String("reason", reason),
				zap.Bool("transient", transient),
			)
		} else {
			messageID := ""
			if resp != nil {
				messageID = resp.MessageID
			}
			result.RecordSent(recipient, messageID)
			e.metrics.IncMessageSent(e.provider.String())
		}

		if i < total-1 && e.delay > 0 {
			if err := e.sleep(ctx, e.delay); err != nil {
				e.cancelRemaining(result, recipients[i+1:])
				logger.Warn("dispatch canceled", zap.Int("remaining", total-i-1), zap.Error(err))
				break
			}
		}
	}

	return e.finish(ctx, result, sink, total)
}

// SendTest dispatches a fixed message to a single address.
func (e *Engine[C]) SendTest(ctx context.Context, address string, name string) domain.DispatchResult {
	recipients := []domain.Recipient{{Address: address, Name: name}}
	return e.Dispatch(ctx, recipients, domain.Campaign{Body: TestMessageBody}, nil)
}

// sendOne performs one throttled send and converts a panic into an error so the loop
// always continues.
func (e *Engine[C]) sendOne(
	ctx context.Context,
	creds C,
	recipient domain.Recipient,
	msg provider.Message,
) (resp *provider.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("send panicked", zap.Any("panic", r))
			resp = nil
			err = fmt.Errorf("%s: %v", reasonUnexpected, r)
		}
	}()

	if e.throttle != nil {
		if err := e.throttle.Wait(ctx, e.provider.String()); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := e.now()
	resp, err = e.sender.Send(ctx, creds, recipient, msg)
	e.metrics.ObserveProviderSendDuration(e.provider.String(), e.now().Sub(start))
	return resp, err
}

func (e *Engine[C]) cancelRemaining(result *domain.DispatchResult, remaining []domain.Recipient) {
	for _, recipient := range remaining {
		result.RecordFailed(recipient, reasonCanceled, "")
	}
	e.countFailures(failureLabel(reasonCanceled), len(remaining))
}

func (e *Engine[C]) finish(
	ctx context.Context,
	result *domain.DispatchResult,
	sink ProgressSink,
	total int,
) domain.DispatchResult {
	result.FinishedAt = e.now().UTC()
	e.report(ctx, sink, Progress{Current: total, Total: total, Phase: PhaseCompleted})

	observability.WithContextLogger(e.logger, ctx).Info("dispatch finished",
		zap.Int("sent", result.SentCount),
		zap.Int("failed", result.FailedCount),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return *result
}

// report shields the run from a misbehaving sink.
func (e *Engine[C]) report(ctx context.Context, sink ProgressSink, progress Progress) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("progress sink panicked", zap.Any("panic", r))
		}
	}()
	sink.Report(ctx, progress)
}

func (e *Engine[C]) countFailures(label string, n int) {
	if e.metrics == nil || n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		e.metrics.IncMessageFailed(e.provider.String(), label)
	}
}

// failureLabel collapses free-form reasons into a bounded metric label set.
func failureLabel(reason string) string {
	switch reason {
	case domain.ErrNotConfigured.Error():
		return "not_configured"
	case domain.ErrInvalidAddress.Error():
		return "invalid_address"
	case reasonCanceled:
		return "canceled"
	}
	if strings.HasPrefix(reason, reasonUnexpected) {
		return "unexpected"
	}
	return "provider_error"
}

// sendFailureLabel separates provider failures worth retrying in a later run from
// permanent rejections.
func sendFailureLabel(reason string, transient bool) string {
	label := failureLabel(reason)
	if label == "provider_error" && transient {
		return "provider_transient"
	}
	return label
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
