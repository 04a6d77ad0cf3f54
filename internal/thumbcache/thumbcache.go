// Package thumbcache is the narrow get(key,mtime,size)/put(key,value,mtime,size)
// thumbnail result cache the recovery driver reads and writes through.
// Backed by a WAL-mode SQLite database; safe for concurrent use.
package thumbcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS thumbnails (
	cache_key  TEXT NOT NULL,
	mtime_unix INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	thumb_path TEXT NOT NULL,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (cache_key, mtime_unix, size)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

// Store is the thumbnail result cache. One resource's thumbnail is keyed by
// (path, mtime, size); a cache hit avoids re-running the external tool.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// group dedupes concurrent Get-miss callers generating the same
	// thumbnail.
	group singleflight.Group
}

// Open creates or opens the thumbnail cache database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached thumbnail path for (key, mtimeUnix, size), if any.
func (s *Store) Get(key string, mtimeUnix, size int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var thumbPath string
	err := s.db.QueryRow(
		`SELECT thumb_path FROM thumbnails WHERE cache_key = ? AND mtime_unix = ? AND size = ?`,
		key, mtimeUnix, size,
	).Scan(&thumbPath)
	if err != nil {
		return "", false
	}
	if _, statErr := os.Stat(thumbPath); statErr != nil {
		return "", false
	}
	return thumbPath, true
}

// Put records thumbPath as the cached thumbnail for (key, mtimeUnix, size).
func (s *Store) Put(key string, mtimeUnix, size int64, thumbPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO thumbnails (cache_key, mtime_unix, size, thumb_path) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key, mtime_unix, size) DO UPDATE SET thumb_path = excluded.thumb_path`,
		key, mtimeUnix, size, thumbPath,
	)
	return err
}

// GetOrGenerate returns a cached thumbnail path, or calls generate exactly
// once per (key, mtimeUnix, size) even under concurrent requests, caching
// and returning its result.
func (s *Store) GetOrGenerate(key string, mtimeUnix, size int64, generate func() (string, error)) (string, error) {
	if path, ok := s.Get(key, mtimeUnix, size); ok {
		return path, nil
	}

	groupKey := fmt.Sprintf("%s:%d:%d", key, mtimeUnix, size)
	v, err, _ := s.group.Do(groupKey, func() (any, error) {
		if path, ok := s.Get(key, mtimeUnix, size); ok {
			return path, nil
		}
		path, err := generate()
		if err != nil {
			return nil, err
		}
		if err := s.Put(key, mtimeUnix, size, path); err != nil {
			return nil, err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
