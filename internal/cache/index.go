package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one row of the metadata index.
type Entry struct {
	Fingerprint  Fingerprint
	Size         int64
	CreatedAt    time.Time
	LastAccessAt time.Time
}

// Index stores cache metadata in SQLite.
type Index struct {
	db *sql.DB
}

const indexSchema = `CREATE TABLE IF NOT EXISTS entries (
	fingerprint    TEXT PRIMARY KEY,
	size           INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	last_access_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_last_access ON entries (last_access_at);`

// OpenIndex opens (creating if needed) the index database at path.
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Get returns the entry for fp.
func (x *Index) Get(ctx context.Context, fp Fingerprint) (Entry, bool, error) {
	row := x.db.QueryRowContext(ctx,
		"SELECT fingerprint, size, created_at, last_access_at FROM entries WHERE fingerprint = ?", string(fp))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Put inserts or replaces an entry.
func (x *Index) Put(ctx context.Context, e Entry) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO entries (fingerprint, size, created_at, last_access_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET size = excluded.size, last_access_at = excluded.last_access_at`,
		string(e.Fingerprint), e.Size, e.CreatedAt.UnixNano(), e.LastAccessAt.UnixNano())
	return err
}

// Touch records an access.
func (x *Index) Touch(ctx context.Context, fp Fingerprint, at time.Time) error {
	_, err := x.db.ExecContext(ctx, "UPDATE entries SET last_access_at = ? WHERE fingerprint = ?", at.UnixNano(), string(fp))
	return err
}

// Delete removes an entry.
func (x *Index) Delete(ctx context.Context, fp Fingerprint) error {
	_, err := x.db.ExecContext(ctx, "DELETE FROM entries WHERE fingerprint = ?", string(fp))
	return err
}

// Totals returns the entry count and summed size.
func (x *Index) Totals(ctx context.Context) (int, int64, error) {
	var (
		count int
		total sql.NullInt64
	)
	err := x.db.QueryRowContext(ctx, "SELECT COUNT(*), SUM(size) FROM entries").Scan(&count, &total)
	if err != nil {
		return 0, 0, err
	}
	return count, total.Int64, nil
}

// LeastRecent returns up to limit entries ordered oldest access first.
func (x *Index) LeastRecent(ctx context.Context, limit int) ([]Entry, error) {
	return x.list(ctx,
		"SELECT fingerprint, size, created_at, last_access_at FROM entries ORDER BY last_access_at ASC, created_at ASC LIMIT ?", limit)
}

// All returns every entry.
func (x *Index) All(ctx context.Context) ([]Entry, error) {
	return x.list(ctx, "SELECT fingerprint, size, created_at, last_access_at FROM entries ORDER BY created_at ASC")
}

func (x *Index) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		fp              string
		e               Entry
		created, access int64
	)
	if err := s.Scan(&fp, &e.Size, &created, &access); err != nil {
		return Entry{}, err
	}
	e.Fingerprint = Fingerprint(fp)
	e.CreatedAt = time.Unix(0, created)
	e.LastAccessAt = time.Unix(0, access)
	return e, nil
}
