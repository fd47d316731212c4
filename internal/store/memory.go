package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/qcom/phoneotp/internal/clock"
)

const memoryCleanupInterval = 10 * time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps entries in process. Expiry is decided against the
// injected clock on read; go-cache only evicts the garbage.
type MemoryStore struct {
	cache *cache.Cache
	clock clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, memoryCleanupInterval),
		clock: clk,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	item, found := s.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}

	entry := item.(memoryEntry)
	if !s.clock.Now().Before(entry.expiresAt) {
		s.cache.Delete(key)
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		s.cache.Delete(key)
		return nil
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.cache.Set(key, memoryEntry{
		value:     stored,
		expiresAt: s.clock.Now().Add(ttl),
	}, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.Get(ctx, key); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
