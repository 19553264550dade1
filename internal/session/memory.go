package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory with sliding expiration.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore creates a store whose entries expire ttl after their last write.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	if x, found := m.cache.Get(id); found {
		return x.(*Session).Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := New(id)
	if x, found := m.cache.Get(id); found {
		sess = x.(*Session).Clone()
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	m.cache.Set(id, sess.Clone(), cache.DefaultExpiration)
	return sess, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}
