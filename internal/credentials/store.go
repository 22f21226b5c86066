package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Store is the key/value boundary credentials are persisted through.
// Load returns domain.ErrNotFound when nothing is stored under key.
type Store interface {
	Load(ctx context.Context, key string) (map[string]string, error)
	Save(ctx context.Context, key string, fields map[string]string) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyFields(fields), nil
}

func (s *MemoryStore) Save(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = copyFields(fields)
	return nil
}

// FileStore keeps every provider's credentials in one YAML document on local disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: credential file path is required", domain.ErrValidation)
	}
	return &FileStore{path: trimmed}, nil
}

func (s *FileStore) Load(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	fields, ok := doc[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyFields(fields), nil
}

func (s *FileStore) Save(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[key] = copyFields(fields)

	payload, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]map[string]string, error) {
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	doc := make(map[string]map[string]string)
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode credential file: %w", err)
	}
	if doc == nil {
		doc = make(map[string]map[string]string)
	}
	return doc, nil
}

const redisKeyPrefix = "credentials:"

// RedisStore keeps each provider's credentials in a Redis hash.
type RedisStore struct {
	client *goredis.Client
}

func NewRedisStore(client *goredis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials %q: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return fields, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	redisKey := redisKeyPrefix + key
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		if len(values) > 0 {
			pipe.HSet(ctx, redisKey, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials %q: %w", key, err)
	}
	return nil
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
