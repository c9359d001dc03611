// Package store caches extraction results in SQLite, keyed by the SHA-256
// of the input and a fingerprint of the options that shaped the output.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = errors.New("store: entry not found")

// Entry represents a row in the extractions table.
type Entry struct {
	Key         string `json:"key"`
	ContentHash string `json:"content_hash"`
	Fingerprint string `json:"fingerprint"`
	Filename    string `json:"filename,omitempty"`
	Format      string `json:"format"`
	Content     string `json:"content"`
	Metadata    string `json:"metadata,omitempty"` // JSON object
	Partial     bool   `json:"partial"`
	Diagnostics string `json:"diagnostics,omitempty"` // JSON array
	CreatedAt   string `json:"created_at"`
}

// Store wraps the SQLite database of the result cache.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HashContent returns the hex SHA-256 of everything r yields.
func HashContent(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Key combines a content hash and an options fingerprint into a cache key.
func Key(contentHash, fingerprint string) string {
	sum := sha256.Sum256([]byte(contentHash + "\x00" + fingerprint))
	return hex.EncodeToString(sum[:])
}

// Put inserts or replaces the entry for e.Key.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.Key == "" {
		e.Key = Key(e.ContentHash, e.Fingerprint)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (key, content_hash, fingerprint, filename, format, content,
			metadata, partial, diagnostics, size_bytes, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content = excluded.content,
			metadata = excluded.metadata,
			partial = excluded.partial,
			diagnostics = excluded.diagnostics,
			size_bytes = excluded.size_bytes,
			created_at = CURRENT_TIMESTAMP,
			accessed_at = CURRENT_TIMESTAMP
	`, e.Key, e.ContentHash, e.Fingerprint, e.Filename, e.Format, e.Content,
		nullString(e.Metadata), e.Partial, nullString(e.Diagnostics), len(e.Content))
	if err != nil {
		return fmt.Errorf("storing extraction: %w", err)
	}
	return nil
}

// Get retrieves the entry for key and records the access.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	e := &Entry{}
	var filename, metadata, diagnostics sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT key, content_hash, fingerprint, filename, format, content, metadata, partial, diagnostics, created_at
		FROM extractions WHERE key = ?
	`, key).Scan(&e.Key, &e.ContentHash, &e.Fingerprint, &filename, &e.Format, &e.Content,
		&metadata, &e.Partial, &diagnostics, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading extraction: %w", err)
	}
	e.Filename = filename.String
	e.Metadata = metadata.String
	e.Diagnostics = diagnostics.String

	if _, err := s.db.ExecContext(ctx,
		"UPDATE extractions SET accessed_at = CURRENT_TIMESTAMP WHERE key = ?", key); err != nil {
		return nil, fmt.Errorf("touching extraction: %w", err)
	}
	return e, nil
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM extractions WHERE key = ?", key)
	return err
}

// DeleteContent removes every entry cached for an input, whatever the
// options. It returns the number of entries removed.
func (s *Store) DeleteContent(ctx context.Context, contentHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM extractions WHERE content_hash = ?", contentHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Prune removes entries not accessed since before. It returns the number
// of entries removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM extractions WHERE accessed_at < ?",
		before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("pruning extractions: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarises the cache.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stats returns the number of cached entries and their total content size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM extractions").Scan(&st.Entries, &st.Bytes)
	return st, err
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
