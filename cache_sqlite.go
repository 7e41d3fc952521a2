package parksapi

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ThemeParks/parksapi-sub000/internal/singleflight"
)

// SQLiteCache is a persistent cache store backed by an embedded SQLite
// database: one table holding key, serialized value, absolute expiry and
// last-access timestamps, indexed to support sweep and eviction queries.
// Storage failures and corrupt rows are logged and surfaced as misses; they
// are never returned to Get callers.
type SQLiteCache struct {
	db         *sql.DB
	maxEntries int
	evictions  int64
	logger     Logger
	group      *singleflight.Group
	sweepStop  chan struct{}
	closeOnce  sync.Once
}

// NewSQLiteCache opens (or creates) the database at path, bounded to
// maxEntries (0 or negative means unbounded), sweeping expired rows at
// DefaultSweepInterval. Pass ":memory:" for an ephemeral store.
func NewSQLiteCache(path string, maxEntries int, logger Logger) (*SQLiteCache, error) {
	return NewSQLiteCacheWithSweep(path, maxEntries, DefaultSweepInterval, logger)
}

// NewSQLiteCacheWithSweep opens a SQLite cache with a custom sweep interval.
func NewSQLiteCacheWithSweep(path string, maxEntries int, sweepInterval time.Duration, logger Logger) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &SQLiteCache{
		db:         db,
		maxEntries: maxEntries,
		logger:     logger,
		group:      singleflight.New(),
		sweepStop:  make(chan struct{}),
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c, nil
}

func (c *SQLiteCache) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			last_access INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache_entries(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_last_access ON cache_entries(last_access)`,
	}
	for _, query := range queries {
		if _, err := c.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a value. Expired rows are deleted and reported as a miss;
// storage errors are logged and reported as a miss.
func (c *SQLiteCache) Get(key string) ([]byte, bool) {
	var value []byte
	var expiresAt int64
	err := c.db.QueryRow(
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.logError("cache read failed", "key", key, "error", err)
		return nil, false
	}

	now := time.Now()
	if now.UnixNano() > expiresAt {
		if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			c.logError("cache expiry delete failed", "key", key, "error", err)
		}
		return nil, false
	}

	if _, err := c.db.Exec(
		`UPDATE cache_entries SET last_access = ? WHERE key = ?`, now.UnixNano(), key,
	); err != nil {
		c.logError("cache recency update failed", "key", key, "error", err)
	}
	return value, true
}

// Set upserts a value, refreshing expiry and recency, then enforces the
// entry bound by evicting least-recently-accessed rows.
func (c *SQLiteCache) Set(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	_, err := c.db.Exec(
		`INSERT INTO cache_entries (key, value, expires_at, last_access)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			expires_at = excluded.expires_at, last_access = excluded.last_access`,
		key, value, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		c.logError("cache write failed", "key", key, "error", err)
		return
	}
	c.evict()
}

func (c *SQLiteCache) evict() {
	if c.maxEntries <= 0 {
		return
	}
	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		c.logError("cache count failed", "error", err)
		return
	}
	excess := count - c.maxEntries
	if excess <= 0 {
		return
	}
	res, err := c.db.Exec(
		`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY last_access ASC LIMIT ?
		)`, excess,
	)
	if err != nil {
		c.logError("cache eviction failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil {
		atomic.AddInt64(&c.evictions, n)
	}
}

// Evictions returns how many rows have been dropped to enforce the bound.
func (c *SQLiteCache) Evictions() int64 {
	return atomic.LoadInt64(&c.evictions)
}

// Delete removes an entry.
func (c *SQLiteCache) Delete(key string) {
	if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		c.logError("cache delete failed", "key", key, "error", err)
	}
}

// Has reports whether a non-expired entry exists, without refreshing recency.
func (c *SQLiteCache) Has(key string) bool {
	var expiresAt int64
	err := c.db.QueryRow(
		`SELECT expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		c.logError("cache has failed", "key", key, "error", err)
		return false
	}
	if time.Now().UnixNano() > expiresAt {
		if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			c.logError("cache expiry delete failed", "key", key, "error", err)
		}
		return false
	}
	return true
}

// Size returns the stored row count.
func (c *SQLiteCache) Size() int {
	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		c.logError("cache count failed", "error", err)
		return 0
	}
	return count
}

// Keys returns all stored keys.
func (c *SQLiteCache) Keys() []string {
	rows, err := c.db.Query(`SELECT key FROM cache_entries`)
	if err != nil {
		c.logError("cache keys failed", "error", err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			c.logError("cache key scan failed", "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Wrap is compute-if-absent with coalesced concurrent computes.
func (c *SQLiteCache) Wrap(key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	v, err := c.group.Do(key, func() (interface{}, error) {
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Clear removes all entries.
func (c *SQLiteCache) Clear() {
	if _, err := c.db.Exec(`DELETE FROM cache_entries`); err != nil {
		c.logError("cache clear failed", "error", err)
	}
}

// Close stops the sweeper and closes the database.
func (c *SQLiteCache) Close() error {
	c.closeOnce.Do(func() { close(c.sweepStop) })
	return c.db.Close()
}

func (c *SQLiteCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.sweepStop:
			return
		}
	}
}

// Sweep deletes all expired rows independent of access.
func (c *SQLiteCache) Sweep() {
	_, err := c.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, time.Now().UnixNano())
	if err != nil {
		c.logError("cache sweep failed", "error", err)
	}
}

func (c *SQLiteCache) logError(msg string, keysAndValues ...interface{}) {
	if c.logger != nil {
		c.logger.Error(msg, keysAndValues...)
	}
}
