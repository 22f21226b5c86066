package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	progressKeyPrefix  = "dispatch:progress:"
	defaultProgressTTL = 24 * time.Hour
)

// ProgressStore keeps the latest progress event of each run so any API replica can
// answer progress queries while the run executes elsewhere.
type ProgressStore struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewProgressStore(client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*ProgressStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultProgressTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProgressStore{client: client, ttl: ttl, logger: logger}, nil
}

func (s *ProgressStore) Save(ctx context.Context, runID string, progress dispatch.Progress) error {
	key := progressKeyPrefix + runID
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"current": progress.Current,
			"total":   progress.Total,
			"phase":   progress.Phase.String(),
			"label":   progress.Label,
		})
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save progress for run %s: %w", runID, err)
	}
	return nil
}

func (s *ProgressStore) Get(ctx context.Context, runID string) (dispatch.Progress, error) {
	values, err := s.client.HGetAll(ctx, progressKeyPrefix+runID).Result()
	if err != nil {
		return dispatch.Progress{}, fmt.Errorf("failed to load progress for run %s: %w", runID, err)
	}
	if len(values) == 0 {
		return dispatch.Progress{}, fmt.Errorf("%w: progress for run %s", domain.ErrNotFound, runID)
	}

	current, err := strconv.Atoi(values["current"])
	if err != nil {
		return dispatch.Progress{}, fmt.Errorf("invalid progress current for run %s: %w", runID, err)
	}
	total, err := strconv.Atoi(values["total"])
	if err != nil {
		return dispatch.Progress{}, fmt.Errorf("invalid progress total for run %s: %w", runID, err)
	}

	return dispatch.Progress{
		Current: current,
		Total:   total,
		Phase:   dispatch.Phase(strings.TrimSpace(values["phase"])),
		Label:   values["label"],
	}, nil
}

// Sink binds the store to one run. Write failures are logged and never interrupt the run.
func (s *ProgressStore) Sink(runID string) dispatch.ProgressSink {
	return dispatch.SinkFunc(func(ctx context.Context, progress dispatch.Progress) {
		if err := s.Save(ctx, runID, progress); err != nil {
			s.logger.Warn("failed to persist run progress",
				zap.String("runId", runID),
				zap.Error(err),
			)
		}
	})
}
