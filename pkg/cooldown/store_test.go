package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a Redis client for testing.
// Skips the test when Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Test-DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	return client
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Empty store has no window.
	w, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w != nil {
		t.Fatalf("Get() = %+v, want nil on empty store", w)
	}

	// Set then Get round-trips.
	want := Window{ExpiresAt: time.Now().Add(time.Minute), Reason: ReasonRateLimited}
	if err := store.Set(ctx, want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	w, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w == nil {
		t.Fatal("Get() = nil, want stored window")
	}
	if w.Reason != ReasonRateLimited {
		t.Errorf("Reason = %q, want %q", w.Reason, ReasonRateLimited)
	}
	if !w.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", w.ExpiresAt, want.ExpiresAt)
	}

	// Clear removes the window.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	w, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w != nil {
		t.Errorf("Get() after Clear() = %+v, want nil", w)
	}
}

func TestMemoryStoreRejectsExpiredWindow(t *testing.T) {
	store := NewMemoryStore()

	expired := Window{ExpiresAt: time.Now().Add(-time.Minute), Reason: ReasonRateLimited}
	if err := store.Set(context.Background(), expired); err == nil {
		t.Error("Set() with expired window should fail")
	}
}

func TestMemoryStoreExpiresWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	short := Window{ExpiresAt: time.Now().Add(30 * time.Millisecond), Reason: ReasonAccountFrozen}
	if err := store.Set(ctx, short); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	w, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w != nil {
		t.Errorf("Get() = %+v, want nil after expiry", w)
	}
}

func TestMemoryStoreCopiesOnGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, Window{ExpiresAt: time.Now().Add(time.Minute), Reason: ReasonRateLimited}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	first, _ := store.Get(ctx)
	first.Reason = ReasonAccountFrozen

	second, _ := store.Get(ctx)
	if second.Reason != ReasonRateLimited {
		t.Error("mutating a returned window should not affect the store")
	}
}

func TestRedisStore(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client, "test:cooldown")

	// Empty key has no window.
	w, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w != nil {
		t.Fatalf("Get() = %+v, want nil on empty key", w)
	}

	// Set then Get round-trips.
	want := Window{ExpiresAt: time.Now().Add(time.Minute).Truncate(time.Millisecond), Reason: ReasonAccountFrozen}
	if err := store.Set(ctx, want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	w, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w == nil {
		t.Fatal("Get() = nil, want stored window")
	}
	if w.Reason != ReasonAccountFrozen {
		t.Errorf("Reason = %q, want %q", w.Reason, ReasonAccountFrozen)
	}
	if !w.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", w.ExpiresAt, want.ExpiresAt)
	}

	// TTL tracks the window.
	ttl, err := client.TTL(ctx, "test:cooldown").Result()
	if err != nil {
		t.Fatalf("TTL error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within the window duration", ttl)
	}

	// Clear removes the key.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	w, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w != nil {
		t.Errorf("Get() after Clear() = %+v, want nil", w)
	}
}

func TestRedisStoreDefaultKey(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "")

	if store.key != DefaultRedisKey {
		t.Errorf("key = %q, want %q", store.key, DefaultRedisKey)
	}
}

func TestRedisStoreRejectsExpiredWindow(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test:cooldown")

	expired := Window{ExpiresAt: time.Now().Add(-time.Minute), Reason: ReasonRateLimited}
	if err := store.Set(context.Background(), expired); err == nil {
		t.Error("Set() with expired window should fail")
	}
}
