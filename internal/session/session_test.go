package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestRedisRevokeAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	revoked, err := store.Revoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("Revoked() before revoke = %v, %v", revoked, err)
	}
	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	revoked, err = store.Revoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("Revoked() after revoke = %v, %v", revoked, err)
	}
	if revoked, _ := store.Revoked(ctx, "jti-2"); revoked {
		t.Fatalf("unrelated jti reported revoked")
	}
}

func TestRedisRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-exp", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	s.FastForward(2 * time.Minute)
	if revoked, _ := store.Revoked(ctx, "jti-exp"); revoked {
		t.Fatalf("revocation should expire with the token")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if s.Exists("papersub:revoked:old") {
		t.Fatalf("expired token should not be stored")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Revoke(ctx, "a", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if revoked, _ := store.Revoked(ctx, "a"); !revoked {
		t.Fatalf("Revoked(a) = false, want true")
	}
	if revoked, _ := store.Revoked(ctx, "b"); revoked {
		t.Fatalf("Revoked(b) = true, want false")
	}
	_ = store.Revoke(ctx, "c", time.Now().Add(-time.Second))
	if revoked, _ := store.Revoked(ctx, "c"); revoked {
		t.Fatalf("expired token should not be recorded")
	}
}
