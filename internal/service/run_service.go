package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"github.com/kursadbilgin/campaign-dispatcher/internal/observability"
	"github.com/kursadbilgin/campaign-dispatcher/internal/queue"
	"github.com/kursadbilgin/campaign-dispatcher/internal/repository"
	"go.uber.org/zap"
)

const (
	maxRunSize        = 10000
	finishSaveTimeout = 10 * time.Second
)

// Dispatcher is the provider-agnostic view of a dispatch engine.
type Dispatcher interface {
	Provider() domain.Provider
	Dispatch(ctx context.Context, recipients []domain.Recipient, campaign domain.Campaign, sink dispatch.ProgressSink) domain.DispatchResult
	SendTest(ctx context.Context, address string, name string) domain.DispatchResult
}

// ProgressStore holds the latest progress of asynchronous runs.
type ProgressStore interface {
	Sink(runID string) dispatch.ProgressSink
	Get(ctx context.Context, runID string) (dispatch.Progress, error)
}

// RunService executes dispatches synchronously or as background runs with persisted history.
type RunService struct {
	dispatchers map[domain.Provider]Dispatcher
	runs        repository.RunRepository
	progress    ProgressStore
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	newID       func() string
	now         func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewRunService wires the service. progress and publisher are optional.
func NewRunService(
	dispatchers []Dispatcher,
	runs repository.RunRepository,
	progress ProgressStore,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*RunService, error) {
	if len(dispatchers) == 0 {
		return nil, fmt.Errorf("at least one dispatcher is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byProvider := make(map[domain.Provider]Dispatcher, len(dispatchers))
	for _, d := range dispatchers {
		if d == nil {
			continue
		}
		if _, exists := byProvider[d.Provider()]; exists {
			return nil, fmt.Errorf("duplicate dispatcher for provider %s", d.Provider())
		}
		byProvider[d.Provider()] = d
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &RunService{
		dispatchers: byProvider,
		runs:        runs,
		progress:    progress,
		publisher:   publisher,
		logger:      logger,
		newID:       uuid.NewString,
		now:         time.Now,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}, nil
}

func (s *RunService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Providers lists the providers this service can dispatch through.
func (s *RunService) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(s.dispatchers))
	for _, p := range []domain.Provider{domain.ProviderTwilio, domain.ProviderEmailJS, domain.ProviderSES} {
		if _, ok := s.dispatchers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Dispatch runs a campaign to completion on the caller's goroutine.
func (s *RunService) Dispatch(
	ctx context.Context,
	provider domain.Provider,
	recipients []domain.Recipient,
	campaign domain.Campaign,
) (domain.DispatchResult, error) {
	d, err := s.prepare(provider, recipients, campaign)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	s.metrics.IncRunInFlight(provider.String())
	defer s.metrics.DecRunInFlight(provider.String())

	result := d.Dispatch(ctx, recipients, campaign, dispatch.NewLogSink(s.logger))
	s.metrics.IncRunFinished(provider.String(), result.RunStatus().String())
	return result, nil
}

// StartRun records a new run and executes it in the background. The returned run is in
// RUNNING state; its progress and final outcome are available through GetProgress and GetRun.
func (s *RunService) StartRun(
	ctx context.Context,
	provider domain.Provider,
	recipients []domain.Recipient,
	campaign domain.Campaign,
) (*domain.DispatchRun, error) {
	d, err := s.prepare(provider, recipients, campaign)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	run := &domain.DispatchRun{
		ID:         s.newID(),
		Provider:   provider,
		Status:     domain.RunStatusRunning,
		TotalCount: len(recipients),
		Errors:     []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: run service is shutting down", domain.ErrConflict)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.runs.Create(ctx, run); err != nil {
		s.wg.Done()
		return nil, fmt.Errorf("failed to create dispatch run: %w", err)
	}

	owned := make([]domain.Recipient, len(recipients))
	copy(owned, recipients)

	go s.execute(run.ID, d, owned, campaign)

	s.logger.Info("dispatch run started",
		zap.String("runId", run.ID),
		zap.String("provider", provider.String()),
		zap.Int("recipients", len(owned)),
	)
	return run, nil
}

func (s *RunService) execute(runID string, d Dispatcher, recipients []domain.Recipient, campaign domain.Campaign) {
	defer s.wg.Done()

	provider := d.Provider()
	ctx := observability.WithRun(s.baseCtx, runID, provider.String())
	logger := s.logger.With(observability.RunFields(ctx)...)

	s.metrics.IncRunInFlight(provider.String())
	defer s.metrics.DecRunInFlight(provider.String())

	sinks := dispatch.Sinks{dispatch.NewLogSink(s.logger)}
	if s.progress != nil {
		sinks = append(sinks, s.progress.Sink(runID))
	}
	var events *queue.EventSink
	if s.publisher != nil {
		events = queue.NewEventSink(s.publisher, runID, provider, s.logger)
		sinks = append(sinks, events)
	}

	result := d.Dispatch(ctx, recipients, campaign, sinks)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishSaveTimeout)
	defer cancel()

	if err := s.runs.Finish(saveCtx, runID, result); err != nil {
		logger.Error("failed to persist dispatch run outcome", zap.Error(err))
	}
	if events != nil {
		events.Completed(saveCtx, result)
	}

	s.metrics.IncRunFinished(provider.String(), result.RunStatus().String())
	logger.Info("dispatch run finished",
		zap.String("status", result.RunStatus().String()),
		zap.Int("sent", result.SentCount),
		zap.Int("failed", result.FailedCount),
	)
}

func (s *RunService) GetRun(ctx context.Context, id string) (*domain.DispatchRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid run id", domain.ErrValidation)
	}
	return s.runs.GetByID(ctx, id)
}

// GetProgress returns the live progress of a run, falling back to the persisted record
// once the live entry has expired or when no progress store is configured.
func (s *RunService) GetProgress(ctx context.Context, id string) (dispatch.Progress, error) {
	if _, err := uuid.Parse(id); err != nil {
		return dispatch.Progress{}, fmt.Errorf("%w: invalid run id", domain.ErrValidation)
	}

	if s.progress != nil {
		progress, err := s.progress.Get(ctx, id)
		if err == nil {
			return progress, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to read live progress, using run record",
				zap.String("runId", id),
				zap.Error(err),
			)
		}
	}

	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return dispatch.Progress{}, err
	}
	if run.Status.IsTerminal() {
		return dispatch.Progress{Current: run.TotalCount, Total: run.TotalCount, Phase: dispatch.PhaseCompleted}, nil
	}
	return dispatch.Progress{Current: 0, Total: run.TotalCount, Phase: dispatch.PhaseSending}, nil
}

// SendTest sends the fixed test message to one address.
func (s *RunService) SendTest(ctx context.Context, provider domain.Provider, address string, name string) (domain.DispatchResult, error) {
	d, err := s.dispatcher(provider)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	if strings.TrimSpace(address) == "" {
		return domain.DispatchResult{}, fmt.Errorf("%w: address is required", domain.ErrValidation)
	}
	return d.SendTest(ctx, address, name), nil
}

// Shutdown stops accepting runs and waits for the running ones. When ctx expires first the
// remaining runs are canceled, which records their unsent recipients as failed.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *RunService) prepare(provider domain.Provider, recipients []domain.Recipient, campaign domain.Campaign) (Dispatcher, error) {
	d, err := s.dispatcher(provider)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if len(recipients) > maxRunSize {
		return nil, fmt.Errorf("%w: at most %d recipients per run", domain.ErrValidation, maxRunSize)
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *RunService) dispatcher(provider domain.Provider) (Dispatcher, error) {
	if !provider.IsValid() {
		return nil, fmt.Errorf("%w: invalid provider %q", domain.ErrValidation, provider)
	}
	d, ok := s.dispatchers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s is not enabled", domain.ErrNotFound, provider)
	}
	return d, nil
}
