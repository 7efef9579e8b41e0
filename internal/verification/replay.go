package verification

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayStore remembers claimed proof digests.
type ReplayStore interface {
	// Claim records digest for ttl and reports whether it was not already claimed.
	Claim(ctx context.Context, digest string, ttl time.Duration) (bool, error)
}

// MemoryReplayStore is an in-process ReplayStore.
type MemoryReplayStore struct {
	mu   sync.Mutex
	m    map[string]time.Time
	nowF func() time.Time
}

// NewMemoryReplayStore returns an empty in-memory replay store.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{
		m:    make(map[string]time.Time),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

var _ ReplayStore = (*MemoryReplayStore)(nil)

func (s *MemoryReplayStore) Claim(ctx context.Context, digest string, ttl time.Duration) (bool, error) {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.m[digest]; ok && exp.After(now) {
		return false, nil
	}
	s.m[digest] = now.Add(ttl)
	if len(s.m) > 1024 {
		for k, exp := range s.m {
			if !exp.After(now) {
				delete(s.m, k)
			}
		}
	}
	return true, nil
}

const replayKeyPrefix = "verification:proof:"

// RedisReplayStore claims digests with SET NX PX so replicas share one replay window.
type RedisReplayStore struct {
	client *redis.Client
}

// NewRedisReplayStore returns a replay store backed by client.
func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client}
}

var _ ReplayStore = (*RedisReplayStore)(nil)

func (s *RedisReplayStore) Claim(ctx context.Context, digest string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, replayKeyPrefix+digest, 1, ttl).Result()
}
