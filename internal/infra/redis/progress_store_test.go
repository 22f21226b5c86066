package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestProgressStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	store, err := NewProgressStore(rdb, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewProgressStore() error = %v", err)
	}

	ctx := context.Background()
	sink := store.Sink("run-1")
	sink.Report(ctx, dispatch.Progress{Current: 1, Total: 3, Phase: dispatch.PhaseSending, Label: "Alice"})
	sink.Report(ctx, dispatch.Progress{Current: 2, Total: 3, Phase: dispatch.PhaseSending, Label: "+41791234567"})

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := dispatch.Progress{Current: 2, Total: 3, Phase: dispatch.PhaseSending, Label: "+41791234567"}
	if got != want {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}

	ttl, err := rdb.TTL(ctx, progressKeyPrefix+"run-1").Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v, want within (0, 1m]", ttl)
	}
}

func TestProgressStoreGetMissingRun(t *testing.T) {
	t.Parallel()

	store, err := NewProgressStore(newTestRedisClient(t), 0, nil)
	if err != nil {
		t.Fatalf("NewProgressStore() error = %v", err)
	}

	_, err = store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestProgressStoreSinkLogsWriteFailure(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	core, recorded := observer.New(zapcore.WarnLevel)
	store, err := NewProgressStore(rdb, time.Minute, zap.New(core))
	if err != nil {
		t.Fatalf("NewProgressStore() error = %v", err)
	}
	_ = rdb.Close()

	store.Sink("run-2").Report(context.Background(), dispatch.Progress{Current: 1, Total: 1, Phase: dispatch.PhaseCompleted})

	if recorded.FilterMessage("failed to persist run progress").Len() != 1 {
		t.Fatalf("expected one warning, got %d entries", recorded.Len())
	}
}

func TestNewProgressStoreRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewProgressStore(nil, time.Minute, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
