// Package pipeline carries the bookkeeping around optimizer runs: pass
// chaining for whole units, run logging, and an optional on-disk cache
// of optimized units.
package pipeline

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/karstvm/karst/pkg/kasm"
)

// Cache stores optimized units in SQLite, keyed by the content hash of
// the input unit. A corrupt or unreadable row is treated as a miss.
type Cache struct {
	db   *sql.DB
	path string
}

// OpenCache opens (or creates) a unit cache at the given path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS units (
		hash TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating units table: %w", err)
	}

	return &Cache{db: db, path: path}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// UnitHash returns the cache key for a unit: the hex SHA-256 of its
// canonical serialization.
func UnitHash(m *kasm.Module) (string, error) {
	data, err := kasm.MarshalModule(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lookup returns the cached optimized unit for the given input hash,
// or nil when absent or undecodable.
func (c *Cache) Lookup(hash string) (*kasm.Module, error) {
	var data []byte
	err := c.db.QueryRow("SELECT data FROM units WHERE hash = ?", hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	m, err := kasm.UnmarshalModule(data)
	if err != nil {
		// Stale format or a torn write; drop the row and miss.
		c.db.Exec("DELETE FROM units WHERE hash = ?", hash)
		return nil, nil
	}
	return m, nil
}

// Store inserts or replaces the optimized unit for the given input hash.
func (c *Cache) Store(hash string, m *kasm.Module) error {
	data, err := kasm.MarshalModule(m)
	if err != nil {
		return err
	}
	if _, err := c.db.Exec("INSERT OR REPLACE INTO units (hash, data) VALUES (?, ?)", hash, data); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
