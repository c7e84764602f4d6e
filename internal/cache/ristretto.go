// Package cache holds short-lived, bounded results keyed by token digest.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is a bounded TTL cache. Values must be treated as immutable by
// readers.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration) bool
	Del(key string)
}

// Config sizes the cache. Each entry costs 1, so MaxEntries bounds the
// number of live entries.
type Config struct {
	MaxEntries  int64
	BufferItems int64
}

func (c *Config) setDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10_000
	}
	if c.BufferItems <= 0 {
		c.BufferItems = 64
	}
}

type RistrettoCache struct {
	cache *ristretto.Cache
}

func NewRistrettoCache(cfg Config) (*RistrettoCache, error) {
	cfg.setDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: cache}, nil
}

func (r *RistrettoCache) Get(key string) (any, bool) {
	return r.cache.Get(key)
}

func (r *RistrettoCache) Set(key string, value any, ttl time.Duration) bool {
	return r.cache.SetWithTTL(key, value, 1, ttl)
}

func (r *RistrettoCache) Del(key string) {
	r.cache.Del(key)
}

// Wait flushes pending sets (useful for tests determinism)
func (r *RistrettoCache) Wait() { r.cache.Wait() }

func (r *RistrettoCache) Close() { r.cache.Close() }

// TokenKey derives a cache key from a bearer token so raw tokens are never
// held as keys.
func TokenKey(prefix, token string) string {
	sum := sha256.Sum256([]byte(token))
	return prefix + ":" + hex.EncodeToString(sum[:])
}
