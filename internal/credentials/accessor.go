package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"go.uber.org/zap"
)

// Handle is the provider-agnostic view of an Accessor used by the HTTP layer.
type Handle interface {
	Key() string
	MaskedFields(ctx context.Context) map[string]string
	PutFields(ctx context.Context, fields map[string]string) bool
	IsComplete(ctx context.Context) bool
	Refresh()
}

var _ Handle = (*Accessor[TwilioCredentials])(nil)

// Accessor is the cached handle a provider's credentials are read through. The cache is
// filled on first Get, replaced on a successful Put and dropped by Refresh. A Get whose
// store read overlaps a Put or Refresh returns what it read but leaves the cache alone.
type Accessor[T Credentials] struct {
	key    string
	store  Store
	decode func(map[string]string) T
	logger *zap.Logger

	mu     sync.RWMutex
	cached *T
	gen    uint64
}

func NewAccessor[T Credentials](
	key string,
	store Store,
	decode func(map[string]string) T,
	logger *zap.Logger,
) (*Accessor[T], error) {
	if key == "" {
		return nil, fmt.Errorf("credential key is required")
	}
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if decode == nil {
		return nil, fmt.Errorf("credential decoder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Accessor[T]{
		key:    key,
		store:  store,
		decode: decode,
		logger: logger,
	}, nil
}

// Get returns the current credentials, or the empty default when none are stored or the
// store cannot be read. Read failures are logged and not cached.
func (a *Accessor[T]) Get(ctx context.Context) T {
	a.mu.RLock()
	cached, gen := a.cached, a.gen
	a.mu.RUnlock()
	if cached != nil {
		return *cached
	}

	if ctx == nil {
		ctx = context.Background()
	}

	fields, err := a.store.Load(ctx, a.key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("failed to load provider credentials, using defaults",
				zap.String("key", a.key),
				zap.Error(err),
			)
			return a.decode(nil)
		}
		fields = nil
	}

	creds := a.decode(fields)

	a.mu.Lock()
	if a.gen == gen {
		a.cached = &creds
	}
	a.mu.Unlock()

	return creds
}

// Put persists creds and reports whether the write succeeded.
func (a *Accessor[T]) Put(ctx context.Context, creds T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := a.store.Save(ctx, a.key, creds.Fields()); err != nil {
		a.logger.Error("failed to save provider credentials",
			zap.String("key", a.key),
			zap.Error(err),
		)
		return false
	}

	a.mu.Lock()
	a.cached = &creds
	a.gen++
	a.mu.Unlock()

	a.logger.Info("provider credentials updated",
		zap.String("key", a.key),
		zap.Bool("complete", creds.IsComplete()),
	)
	return true
}

func (a *Accessor[T]) IsComplete(ctx context.Context) bool {
	return a.Get(ctx).IsComplete()
}

// Refresh drops the cached credentials so the next Get reads the store.
func (a *Accessor[T]) Refresh() {
	a.mu.Lock()
	a.cached = nil
	a.gen++
	a.mu.Unlock()
}

func (a *Accessor[T]) Key() string { return a.key }

// MaskedFields returns the current credentials with secrets redacted.
func (a *Accessor[T]) MaskedFields(ctx context.Context) map[string]string {
	return a.Get(ctx).MaskedFields()
}

// PutFields decodes fields and persists them. A field still holding the redaction
// placeholder keeps its current value, so a masked read can be edited and written back.
func (a *Accessor[T]) PutFields(ctx context.Context, fields map[string]string) bool {
	current := a.Get(ctx).Fields()
	merged := make(map[string]string, len(current))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		if _, known := current[k]; !known {
			continue
		}
		if v == maskedValue {
			continue
		}
		merged[k] = strings.TrimSpace(v)
	}

	return a.Put(ctx, a.decode(merged))
}
