// Package cache stores assessment results keyed by a content hash.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
)

// Cache is a JSON value store with a per-entry TTL. Get reports a miss with
// (false, nil).
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds the cache selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig, log *zap.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL()), nil
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL(),
		}, log)
	}
	return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
}

// Key hashes parts into a stable cache key under namespace.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// KeyJSON hashes the JSON encoding of v.
func KeyJSON(namespace string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cache: key: %w", err)
	}
	return Key(namespace, string(data)), nil
}

// --- in-memory ---

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is a thread-safe in-memory cache with TTL. Values are stored as JSON
// so callers never share mutable state with the cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a memory cache with the given default TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	metrics.CacheHits.WithLabelValues("memory").Inc()
	return true, nil
}

func (c *Memory) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Memory) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Sweeper is a cache that must be asked to drop expired entries. Redis
// expires keys on its own and is not one.
type Sweeper interface {
	Cleanup() int
}

// Cleanup removes expired entries. Can be called periodically.
func (c *Memory) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Memory) Close() error { return nil }
