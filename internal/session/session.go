// Package session tracks revoked bearer tokens by their JTI until the token
// would have expired anyway.
package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Revocations is implemented by MemoryStore and RedisStore.
type Revocations interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

// MemoryStore keeps revocations in process. They are lost on restart.
type MemoryStore struct {
	entries *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (s *MemoryStore) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	s.entries.Set(jti, struct{}{}, ttl)
	return nil
}

func (s *MemoryStore) Revoked(_ context.Context, jti string) (bool, error) {
	_, found := s.entries.Get(jti)
	return found, nil
}
