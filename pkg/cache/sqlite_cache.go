package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCache implements Cache using SQLite as storage, so evaluation
// results survive a process restart. Re-running an optimizer against the
// same graph reuses every allocation already scored in a previous run.
type SQLiteCache struct {
	db        *sql.DB
	config    Config
	stats     Stats
	mu        sync.RWMutex
	closeChan chan struct{}
	cleanupWG sync.WaitGroup
	closeOnce sync.Once
}

// NewSQLiteCache creates a new SQLite-based cache.
func NewSQLiteCache(config Config) (*SQLiteCache, error) {
	if config.SQLite.Path == "" {
		config.SQLite.Path = "treeopt_cache.db"
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	db, err := sql.Open("sqlite3", config.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if config.SQLite.MaxConnections > 0 {
		db.SetMaxOpenConns(config.SQLite.MaxConnections)
	} else {
		db.SetMaxOpenConns(10)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	cache := &SQLiteCache{
		db:        db,
		config:    config,
		closeChan: make(chan struct{}),
	}

	if err := cache.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	if config.SQLite.EnableWAL {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	// Best-effort performance pragmas.
	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		_, _ = db.Exec(pragma)
	}

	cache.cleanupWG.Add(1)
	go cache.cleanupRoutine()

	cache.loadStats()

	return cache, nil
}

func (c *SQLiteCache) initDB() error {
	query := `
	CREATE TABLE IF NOT EXISTS eval_cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL,
		size INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_eval_expires_at ON eval_cache(expires_at) WHERE expires_at > 0;
	CREATE INDEX IF NOT EXISTS idx_eval_accessed_at ON eval_cache(accessed_at);
	`

	_, err := c.db.Exec(query)
	return err
}

func (c *SQLiteCache) loadStats() {
	var size sql.NullInt64
	if err := c.db.QueryRow(`SELECT SUM(size) FROM eval_cache`).Scan(&size); err == nil && size.Valid {
		atomic.StoreInt64(&c.stats.Size, size.Int64)
	}
	c.stats.MaxSize = c.config.MaxSize
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `
	SELECT value FROM eval_cache
	WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`

	var value []byte
	now := time.Now().UnixNano()

	err := c.db.QueryRowContext(ctx, query, key, now).Scan(&value)
	if err == sql.ErrNoRows {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, false, nil
	}
	if err != nil {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	// Best-effort access-time bump for LRU eviction ordering.
	_, _ = c.db.ExecContext(ctx, `UPDATE eval_cache SET accessed_at = ? WHERE key = ?`, now, key)

	atomic.AddInt64(&c.stats.Hits, 1)
	c.mu.Lock()
	c.stats.LastAccess = time.Now()
	c.mu.Unlock()

	return value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixNano()
	} else if c.config.DefaultTTL > 0 {
		expiresAt = now.Add(c.config.DefaultTTL).UnixNano()
	}

	size := int64(len(value))

	var existingSize int64
	err := c.db.QueryRowContext(ctx, `SELECT size FROM eval_cache WHERE key = ?`, key).Scan(&existingSize)
	exists := err == nil

	if c.config.MaxSize > 0 {
		currentSize := atomic.LoadInt64(&c.stats.Size)
		neededSize := size
		if exists {
			neededSize = size - existingSize
		}
		if currentSize+neededSize > c.config.MaxSize {
			if err := c.evictEntries(ctx, neededSize); err != nil {
				return fmt.Errorf("failed to evict entries: %w", err)
			}
		}
	}

	query := `
	INSERT OR REPLACE INTO eval_cache (key, value, expires_at, created_at, accessed_at, size)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := c.db.ExecContext(ctx, query, key, value, expiresAt, now.UnixNano(), now.UnixNano(), size); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	atomic.AddInt64(&c.stats.Sets, 1)
	if exists {
		atomic.AddInt64(&c.stats.Size, size-existingSize)
	} else {
		atomic.AddInt64(&c.stats.Size, size)
	}
	c.mu.Lock()
	c.stats.LastAccess = now
	c.mu.Unlock()

	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	var size int64
	err := c.db.QueryRowContext(ctx, `SELECT size FROM eval_cache WHERE key = ?`, key).Scan(&size)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to get entry size: %w", err)
	}

	result, err := c.db.ExecContext(ctx, `DELETE FROM eval_cache WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		atomic.AddInt64(&c.stats.Deletes, 1)
		atomic.AddInt64(&c.stats.Size, -size)
	}

	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM eval_cache`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	atomic.StoreInt64(&c.stats.Hits, 0)
	atomic.StoreInt64(&c.stats.Misses, 0)
	atomic.StoreInt64(&c.stats.Sets, 0)
	atomic.StoreInt64(&c.stats.Deletes, 0)
	atomic.StoreInt64(&c.stats.Size, 0)

	// Reclaim file space; failure is harmless.
	_, _ = c.db.Exec("VACUUM")

	return nil
}

func (c *SQLiteCache) Stats() Stats {
	c.mu.RLock()
	lastAccess := c.stats.LastAccess
	c.mu.RUnlock()

	return Stats{
		Hits:       atomic.LoadInt64(&c.stats.Hits),
		Misses:     atomic.LoadInt64(&c.stats.Misses),
		Sets:       atomic.LoadInt64(&c.stats.Sets),
		Deletes:    atomic.LoadInt64(&c.stats.Deletes),
		Size:       atomic.LoadInt64(&c.stats.Size),
		MaxSize:    c.config.MaxSize,
		LastAccess: lastAccess,
	}
}

func (c *SQLiteCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
	c.cleanupWG.Wait()
	return c.db.Close()
}

func (c *SQLiteCache) evictEntries(ctx context.Context, neededSpace int64) error {
	// LRU eviction: drop least-recently-accessed entries until there is room.
	for {
		currentSize := atomic.LoadInt64(&c.stats.Size)
		if currentSize+neededSpace <= c.config.MaxSize {
			break
		}

		var oldestKey string
		var deletedSize int64
		err := c.db.QueryRowContext(ctx,
			`SELECT key, size FROM eval_cache ORDER BY accessed_at ASC LIMIT 1`).Scan(&oldestKey, &deletedSize)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return err
		}

		if _, err := c.db.ExecContext(ctx, `DELETE FROM eval_cache WHERE key = ?`, oldestKey); err != nil {
			return err
		}
		atomic.AddInt64(&c.stats.Size, -deletedSize)
	}
	return nil
}

func (c *SQLiteCache) cleanupRoutine() {
	defer c.cleanupWG.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *SQLiteCache) cleanupExpired() {
	now := time.Now().UnixNano()

	result, err := c.db.Exec(`DELETE FROM eval_cache WHERE expires_at > 0 AND expires_at <= ?`, now)
	if err != nil {
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		c.loadStats()
	}
}
