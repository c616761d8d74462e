package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SentMarker claims a notification exactly once. MarkSent returns true when
// the caller won the claim and should send.
type SentMarker interface {
	MarkSent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisMarker claims through SETNX, so replicas running the same tick cannot
// both send.
type RedisMarker struct {
	client *redis.Client
}

func NewRedisMarker(client *redis.Client) *RedisMarker {
	return &RedisMarker{client: client}
}

func (m *RedisMarker) MarkSent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, "trigger:sent:"+key, "1", ttl).Result()
}

// MemoryMarker is the single-process fallback, also used in tests.
type MemoryMarker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{seen: map[string]struct{}{}}
}

func (m *MemoryMarker) MarkSent(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}
