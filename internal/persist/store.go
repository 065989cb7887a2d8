package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// Store is the storage medium for the snapshot document. Read returns
// os.ErrNotExist when nothing has been written yet.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

const (
	FileName       = "pingzilla.json"
	LegacyFileName = "history.json"
	SQLiteName     = "pingzilla.db"
)

// FileStore keeps the snapshot in a single JSON file, replaced atomically.
type FileStore struct {
	Path string
	// LegacyPath is read when Path does not exist yet. It holds the bare
	// sample array written by early releases.
	LegacyPath string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{
		Path:       filepath.Join(dir, FileName),
		LegacyPath: filepath.Join(dir, LegacyFileName),
	}
}

func (f *FileStore) Read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) && f.LegacyPath != "" {
		return os.ReadFile(f.LegacyPath)
	}
	return data, err
}

func (f *FileStore) Write(_ context.Context, data []byte) (err error) {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".pingzilla-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.Path)
}

func (f *FileStore) Close() error { return nil }

// SQLiteStore keeps the snapshot document in a single row.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("ping sqlite: %w", err), db.Close())
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS snapshot(id INTEGER PRIMARY KEY CHECK (id = 1), doc BLOB NOT NULL, updated_at INTEGER NOT NULL)`); err != nil {
		return nil, multierr.Append(fmt.Errorf("init sqlite schema: %w", err), db.Close())
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Read(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM snapshot WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, os.ErrNotExist
	}
	return doc, err
}

func (s *SQLiteStore) Write(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot(id, doc, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		data, time.Now().Unix())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
