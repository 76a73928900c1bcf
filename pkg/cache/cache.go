// Package cache provides the storage layer for evaluation memoization:
// identical allocations produce identical metrics, so results can be reused
// within and across optimization runs. Backends are an in-memory LRU cache
// and a SQLite cache that survives process restarts.
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for storing evaluation results.
type Cache interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given key and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached value by key.
	Delete(ctx context.Context, key string) error

	// Clear removes all cached values.
	Clear(ctx context.Context) error

	// Stats returns cache statistics.
	Stats() Stats

	// Close releases any resources held by the cache.
	Close() error
}

// Stats contains cache performance statistics.
type Stats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Sets       int64     `json:"sets"`
	Deletes    int64     `json:"deletes"`
	Size       int64     `json:"size"`
	MaxSize    int64     `json:"max_size"`
	LastAccess time.Time `json:"last_access"`
}

// Config holds cache configuration.
type Config struct {
	// Type of cache: "memory" or "sqlite"
	Type string `json:"type" yaml:"type"`

	// Maximum cache size in bytes (0 = unlimited)
	MaxSize int64 `json:"max_size" yaml:"max_size"`

	// Default TTL for cache entries (0 = no expiration)
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`

	// CleanupInterval between expired-entry sweeps
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// SQLite specific configuration
	SQLite SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to the SQLite database file
	Path string `json:"path" yaml:"path"`

	// Enable WAL mode for better concurrent performance
	EnableWAL bool `json:"enable_wal" yaml:"enable_wal"`

	// Maximum number of connections
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
}

// New creates a cache instance based on the configuration. Unknown types
// default to the memory cache.
func New(config Config) (Cache, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteCache(config)
	default:
		return NewMemoryCache(config)
	}
}
