package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/library-catalog/pkg/redis"
)

var (
	// ErrNotFound is returned for unknown or expired saga ids.
	ErrNotFound = errors.New("saga not found")
	// ErrVersionConflict is returned when another writer advanced the instance first.
	ErrVersionConflict = errors.New("saga version conflict")
)

// Store persists saga instances with expiry. Writes to distinct sagas never
// block each other.
type Store interface {
	Get(ctx context.Context, sagaID string) (*Instance, error)
	// Put writes the instance unconditionally.
	Put(ctx context.Context, inst *Instance, ttl time.Duration) error
	// CompareAndSwap writes inst only if the stored version equals expected.
	// inst.Version must already hold the new version.
	CompareAndSwap(ctx context.Context, inst *Instance, expected int64, ttl time.Duration) error
	// Walk visits every stored instance in no particular order until visit
	// returns false.
	Walk(ctx context.Context, visit func(*Instance) bool) error
}

type versionedStore interface {
	SetVersioned(ctx context.Context, key string, version int64, data []byte, ttl time.Duration) error
	GetVersioned(ctx context.Context, key string) (int64, []byte, error)
	CompareAndSwapVersioned(ctx context.Context, key string, expected, next int64, data []byte, ttl time.Duration) (bool, error)
	ScanEach(ctx context.Context, pattern string, fn func(keys []string) (bool, error)) error
	SagaKey(sagaID string) string
	SagaKeyPattern() string
}

// RedisStore keeps each instance in its own hash holding the version and the
// JSON document.
type RedisStore struct {
	client versionedStore
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, sagaID string) (*Instance, error) {
	if strings.TrimSpace(sagaID) == "" {
		return nil, ErrNotFound
	}
	return s.load(ctx, s.client.SagaKey(sagaID))
}

func (s *RedisStore) load(ctx context.Context, key string) (*Instance, error) {
	version, data, err := s.client.GetVersioned(ctx, key)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load saga %s: %w", key, err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", key, err)
	}
	inst.Version = version
	return &inst, nil
}

func (s *RedisStore) Put(ctx context.Context, inst *Instance, ttl time.Duration) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.SagaID, err)
	}
	if err := s.client.SetVersioned(ctx, s.client.SagaKey(inst.SagaID), inst.Version, data, ttl); err != nil {
		return fmt.Errorf("put saga %s: %w", inst.SagaID, err)
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, inst *Instance, expected int64, ttl time.Duration) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.SagaID, err)
	}
	ok, err := s.client.CompareAndSwapVersioned(ctx, s.client.SagaKey(inst.SagaID), expected, inst.Version, data, ttl)
	if err != nil {
		return fmt.Errorf("swap saga %s: %w", inst.SagaID, err)
	}
	if !ok {
		return fmt.Errorf("saga %s at version %d: %w", inst.SagaID, expected, ErrVersionConflict)
	}
	return nil
}

// Walk skips keys that expire between the scan and the read.
func (s *RedisStore) Walk(ctx context.Context, visit func(*Instance) bool) error {
	err := s.client.ScanEach(ctx, s.client.SagaKeyPattern(), func(keys []string) (bool, error) {
		for _, key := range keys {
			inst, err := s.load(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return false, err
			}
			if !visit(inst) {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("walk sagas: %w", err)
	}
	return nil
}
