package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memEntry struct {
	val string
	exp time.Time
}

// MemCacheStore is a process-local CacheStore, used in tests and single-node
// deployments without redis. Entries carry their own deadline; the LRU TTL is
// only an eviction upper bound.
type MemCacheStore struct {
	mu   sync.Mutex
	data *expirable.LRU[string, memEntry]
}

var _ CacheStore = (*MemCacheStore)(nil)

func NewMemCacheStore(capacity int, maxTTL time.Duration) *MemCacheStore {
	return &MemCacheStore{
		data: expirable.NewLRU[string, memEntry](capacity, nil, maxTTL),
	}
}

func (s *MemCacheStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.Get(key)
	if !ok || time.Now().After(e.exp) {
		return "", nil
	}
	return e.val, nil
}

func (s *MemCacheStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Add(key, memEntry{val: val, exp: time.Now().Add(ttl)})
	return nil
}

func (s *MemCacheStore) Take(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.Get(key)
	if !ok {
		return "", nil
	}
	s.data.Remove(key)
	if time.Now().After(e.exp) {
		return "", nil
	}
	return e.val, nil
}

func (s *MemCacheStore) Purge(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Remove(key)
	return nil
}
