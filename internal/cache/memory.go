package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

// MemoryProvider is an in-process Provider backed by bigcache. Entries
// expire after the life window given at construction; the hard size cap
// keeps the engine's footprint bounded under snapshot churn.
type MemoryProvider struct {
	cache *bigcache.BigCache
}

// NewMemoryProvider creates a memory cache whose entries live for ttl and
// whose total size never exceeds maxSizeMB megabytes.
func NewMemoryProvider(ttl time.Duration, maxSizeMB int) (*MemoryProvider, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}
	if maxSizeMB < 1 {
		return nil, fmt.Errorf("cache size must be at least 1 MB")
	}

	cfg := bigcache.Config{
		Shards:             64,
		LifeWindow:         ttl,
		CleanWindow:        time.Minute,
		MaxEntriesInWindow: 1000 * 10 * 60,
		MaxEntrySize:       500,
		Verbose:            false,
		HardMaxCacheSize:   maxSizeMB,
	}

	c, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &MemoryProvider{cache: c}, nil
}

// Get returns the cached value for key or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	value, err := m.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return value, nil
}

// Set stores value under key for the configured life window.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte) error {
	if err := m.cache.Set(key, value); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Del removes key if present. Missing keys are not an error.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	if err := m.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Close releases the cache's shard memory.
func (m *MemoryProvider) Close() error {
	return m.cache.Close()
}

// Len reports the number of live entries, for status reporting.
func (m *MemoryProvider) Len() int {
	return m.cache.Len()
}
