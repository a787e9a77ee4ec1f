package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	path       TEXT PRIMARY KEY,
	dir        TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS objects_dir ON objects(dir);
`

// SQLiteStorage implements Storage in a single SQLite database file
type SQLiteStorage struct {
	db  *sql.DB
	ctx context.Context
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(dbPath) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteStorage{db: db, ctx: ctx}, nil
}

// Write upserts the object at path
func (s *SQLiteStorage) Write(path string, data []byte) error {
	key := cleanKey(path)
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO objects (path, dir, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, parentDir(key), data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

// Read reads the object at path
func (s *SQLiteStorage) Read(path string) ([]byte, error) {
	key := cleanKey(path)

	var data []byte
	err := s.db.QueryRowContext(s.ctx, `SELECT data FROM objects WHERE path = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Delete deletes the object at path
func (s *SQLiteStorage) Delete(path string) error {
	key := cleanKey(path)
	if _, err := s.db.ExecContext(s.ctx, `DELETE FROM objects WHERE path = ?`, key); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Exists checks if an object exists at path
func (s *SQLiteStorage) Exists(path string) (bool, error) {
	key := cleanKey(path)

	var one int
	err := s.db.QueryRowContext(s.ctx, `SELECT 1 FROM objects WHERE path = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check object %s: %w", key, err)
	}
	return true, nil
}

// List lists the objects directly under dir
func (s *SQLiteStorage) List(dir string) ([]string, error) {
	prefix := cleanKey(dir)

	rows, err := s.db.QueryContext(s.ctx, `SELECT path FROM objects WHERE dir = ? ORDER BY path`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects in %s: %w", prefix, err)
	}
	defer rows.Close()

	files := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan object path: %w", err)
		}
		files = append(files, strings.TrimPrefix(key[len(prefix):], "/"))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list objects in %s: %w", prefix, err)
	}
	return files, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// cleanKey normalizes a slash-separated object path
func cleanKey(p string) string {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" || p == "." {
		return ""
	}
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "./")
}

func parentDir(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i]
}
