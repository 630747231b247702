// Package session journals committed navigations so a browsing session
// can be restored.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrEmpty is returned by Last when nothing was recorded.
var ErrEmpty = errors.New("session is empty")

// Entry represents a single committed page.
type Entry struct {
	Sequence uint64
	URL      string
	Hash     string
	Title    string
	PageType string
	At       time.Time
}

// Href returns the URL with its fragment.
func (e Entry) Href() string {
	if e.Hash == "" {
		return e.URL
	}
	return e.URL + "#" + e.Hash
}

const schema = `
CREATE TABLE IF NOT EXISTS navigations (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence  INTEGER NOT NULL,
	url       TEXT NOT NULL,
	hash      TEXT NOT NULL DEFAULT '',
	title     TEXT NOT NULL DEFAULT '',
	page_type TEXT NOT NULL DEFAULT '',
	at        INTEGER NOT NULL
);`

// Store is a sqlite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating session dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends an entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO navigations (sequence, url, hash, title, page_type, at) VALUES (?,?,?,?,?,?)`,
		int64(e.Sequence), e.URL, e.Hash, e.Title, e.PageType, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording navigation: %w", err)
	}
	return nil
}

// Last returns the most recent entry.
func (s *Store) Last(ctx context.Context) (Entry, error) {
	entries, err := s.History(ctx, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrEmpty
	}
	return entries[0], nil
}

// History returns up to limit entries, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, url, hash, title, page_type, at FROM navigations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var seq, at int64
		if err := rows.Scan(&seq, &e.URL, &e.Hash, &e.Title, &e.PageType, &at); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		e.Sequence = uint64(seq)
		e.At = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM navigations`)
	return err
}
