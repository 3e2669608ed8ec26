// Package store provides a persistent key/value store for save files,
// backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrUnavailable is returned when the backing database cannot be
	// created or opened.
	ErrUnavailable = errors.New("persistent storage unavailable")

	// ErrVersion is returned when a store is opened with a version older
	// than the one recorded for it.
	ErrVersion = errors.New("store version is newer than requested")
)

// Store is one named, versioned collection of binary files.
type Store struct {
	db      *sql.DB
	name    string
	path    string
	version int
}

// Open opens or creates the store name under dir. The first time version
// is greater than the recorded version the files collection is created or
// upgraded.
func Open(ctx context.Context, dir, name string, version int) (*Store, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid store name %q", name)
	}
	if version < 1 {
		return nil, fmt.Errorf("invalid store version %d", version)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", ErrUnavailable, err)
	}

	path := filepath.Join(dir, name+".db")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}

	current, err := storedVersion(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case current > version:
		db.Close()
		return nil, fmt.Errorf("%w: %s is at version %d, requested %d", ErrVersion, name, current, version)
	case current < version:
		if err := upgrade(ctx, db, version); err != nil {
			db.Close()
			return nil, fmt.Errorf("upgrade %s to version %d: %w", name, version, err)
		}
	}

	return &Store{db: db, name: name, path: path, version: version}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Version returns the version the store was opened at.
func (s *Store) Version() int { return s.version }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Save stores data under key, replacing any previous value.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	digest := Digest(data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (key, data, size, digest, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			digest = excluded.digest,
			updated_at = excluded.updated_at`,
		key, data, len(data), digest[:], time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load returns the data stored under key. A missing key yields nil, nil.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM files WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Stat returns metadata for key, or nil, nil when it is missing.
func (s *Store) Stat(ctx context.Context, key string) (*FileInfo, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT key, size, digest, updated_at FROM files WHERE key = ?", key)
	fi, err := scanFileInfo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return fi, nil
}

// List returns metadata for every stored file ordered by key.
func (s *Store) List(ctx context.Context) ([]FileInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, size, digest, updated_at FROM files ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		fi, err := scanFileInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *fi)
	}
	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFileInfo(row scanner) (*FileInfo, error) {
	var (
		fi        FileInfo
		digest    []byte
		updatedAt int64
	)
	if err := row.Scan(&fi.Key, &fi.Size, &digest, &updatedAt); err != nil {
		return nil, err
	}
	copy(fi.Digest[:], digest)
	if updatedAt > 0 {
		fi.UpdatedAt = time.Unix(0, updatedAt)
	}
	return &fi, nil
}
