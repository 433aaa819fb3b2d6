package cooldown

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for cooldown tracking.
var cooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leadharvest_cooldowns_total",
	Help: "Cooldown windows opened by reason",
}, []string{"reason"})

// DefaultRedisKey holds the active window in Redis.
const DefaultRedisKey = "leadharvest:cooldown"

// Store persists the active cooldown window across sessions.
type Store interface {
	// Get returns the active window, or nil when none is in effect.
	Get(ctx context.Context) (*Window, error)

	// Set opens a window, replacing any previous one.
	Set(ctx context.Context, w Window) error

	// Clear removes the active window.
	Clear(ctx context.Context) error
}

// RedisStore keeps the window in Redis so cooldowns survive restarts and are
// visible to every process sharing the upstream account.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis-backed store. An empty key selects
// DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: client, key: key}
}

// Get implements Store. Missing and expired windows both come back nil.
func (s *RedisStore) Get(ctx context.Context) (*Window, error) {
	raw, err := s.redis.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode cooldown: %w", err)
	}
	if w.Expired() {
		return nil, nil
	}
	return &w, nil
}

// Set implements Store. The Redis TTL matches the window so stale entries
// evict themselves.
func (s *RedisStore) Set(ctx context.Context, w Window) error {
	remaining := w.Remaining()
	if remaining <= 0 {
		return fmt.Errorf("cooldown window already expired")
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode cooldown: %w", err)
	}
	if err := s.redis.Set(ctx, s.key, payload, remaining).Err(); err != nil {
		return fmt.Errorf("store cooldown: %w", err)
	}

	cooldownsTotal.WithLabelValues(string(w.Reason)).Inc()
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear cooldown: %w", err)
	}
	return nil
}

// MemoryStore keeps the window in process memory. It serves single-process
// deployments that run without Redis, and tests.
type MemoryStore struct {
	mu  sync.Mutex
	win *Window
}

// NewMemoryStore creates an in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.win == nil || s.win.Expired() {
		s.win = nil
		return nil, nil
	}
	w := *s.win
	return &w, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, w Window) error {
	if w.Remaining() <= 0 {
		return fmt.Errorf("cooldown window already expired")
	}

	s.mu.Lock()
	s.win = &w
	s.mu.Unlock()

	cooldownsTotal.WithLabelValues(string(w.Reason)).Inc()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.win = nil
	s.mu.Unlock()
	return nil
}
