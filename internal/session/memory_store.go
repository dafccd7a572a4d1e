package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process. Sessions do not survive a restart and
// are not shared between replicas; set REDIS_URL for that.
type MemoryStore struct {
	cache      *cache.Cache
	defaultTTL time.Duration
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = 12 * time.Hour
	}
	return &MemoryStore{
		cache:      cache.New(defaultTTL, 10*time.Minute),
		defaultTTL: defaultTTL,
	}
}

func (s *MemoryStore) Save(_ context.Context, tokenHash string, data Data, expiresAt time.Time) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now().UTC()
	}
	s.cache.Set(tokenHash, data, ttlUntil(expiresAt, s.defaultTTL))
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, tokenHash string) (Data, error) {
	value, ok := s.cache.Get(tokenHash)
	if !ok {
		return Data{}, ErrNotFound
	}
	data, ok := value.(Data)
	if !ok {
		return Data{}, ErrNotFound
	}
	return data, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenHash string) error {
	s.cache.Delete(tokenHash)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
