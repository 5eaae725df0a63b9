package kv

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store using ttlcache. Intended for tests and
// single-node development runs; it offers stronger consistency than the
// production backends, so tests must not rely on that.
type MemoryStore struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemoryStore creates an in-memory store with automatic expiry cleanup.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, ErrNotFound
	}
	return item.Value(), nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	// Copy so callers reusing buffers cannot mutate stored state.
	buf := make([]byte, len(value))
	copy(buf, value)
	s.cache.Set(key, buf, ttl)
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// ListByPrefix implements Store.ListByPrefix. ttlcache has no prefix scan,
// so this walks every live entry; acceptable for the dev/test backend.
func (s *MemoryStore) ListByPrefix(_ context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	s.cache.Range(func(item *ttlcache.Item[string, []byte]) bool {
		if strings.HasPrefix(item.Key(), prefix) {
			out[item.Key()] = item.Value()
		}
		return true
	})
	return out, nil
}

// Stop halts the background expiry loop.
func (s *MemoryStore) Stop() {
	s.cache.Stop()
}

var _ Store = (*MemoryStore)(nil)
