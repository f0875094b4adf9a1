package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// KV is the namespaced key-value store the session store persists into.
// Implementations may be absent, full or disabled; callers treat every error
// as "no history", never as a crash.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryKV keeps entries in process memory. It backs tests and the degraded
// mode when no redis is reachable.
type MemoryKV struct {
	cache *cache.Cache
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if x, found := m.cache.Get(key); found {
		return x.([]byte), true, nil
	}
	return nil, false, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	m.cache.Set(key, value, cache.NoExpiration)
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
