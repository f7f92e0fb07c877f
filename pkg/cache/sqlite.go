package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a durable Store backed by a single SQLite file.
// Writes go through one connection; reads use a separate read-only handle.
type SQLiteStore struct {
	readDB  *sql.DB
	writeDB *sql.DB
	now     func() time.Time
}

// OpenSQLiteStore opens (or creates) the page database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	s := &SQLiteStore{writeDB: writeDB, now: time.Now}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	// Schema must exist before the read-only handle touches the file
	readDB, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}
	s.readDB = readDB
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS pages (
			fingerprint TEXT    NOT NULL,
			idx         INTEGER NOT NULL,
			data        BLOB    NOT NULL,
			fetched_at  INTEGER NOT NULL,
			PRIMARY KEY (fingerprint, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_pages_fetched_at ON pages(fetched_at);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close releases both database handles.
func (s *SQLiteStore) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	return errors.Join(errs...)
}

// Get retrieves the page at (fp, index).
// Returns ErrCacheMiss if the page doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, fp filter.Fingerprint, index int) (*Page, error) {
	var data []byte
	err := s.readDB.QueryRowContext(ctx,
		`SELECT data FROM pages WHERE fingerprint = ? AND idx = ?`,
		string(fp), index,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("querying page: %w", err)
	}

	page, err := decodePage(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues("sqlite").Inc()
	return page, nil
}

// Put upserts the page inside a transaction so the monotonic stamp sees the
// row it replaces.
func (s *SQLiteStore) Put(ctx context.Context, fp filter.Fingerprint, index int, page *Page) error {
	if page == nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("%w: page cannot be nil", ErrInvalidPage)
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var prev *Page
	var prevData []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM pages WHERE fingerprint = ? AND idx = ?`,
		string(fp), index,
	).Scan(&prevData)
	switch {
	case err == nil:
		prev, _ = decodePage(prevData)
	case !errors.Is(err, sql.ErrNoRows):
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("querying previous page: %w", err)
	}

	stored := page.Clone()
	stamp(stored, prev, s.now())

	data, err := json.Marshal(stored)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal page: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pages (fingerprint, idx, data, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint, idx) DO UPDATE SET
			data = excluded.data,
			fetched_at = excluded.fetched_at
	`, string(fp), index, data, stored.FetchedAt.UnixNano())
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("upserting page: %w", err)
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("committing page: %w", err)
	}

	page.FetchedAt = stored.FetchedAt
	if prev == nil {
		CachePages.WithLabelValues("sqlite").Inc()
	}
	return nil
}

// Pages returns the contiguous pages of fp starting at index 0.
func (s *SQLiteStore) Pages(ctx context.Context, fp filter.Fingerprint) ([]*Page, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT idx, data FROM pages WHERE fingerprint = ? ORDER BY idx ASC`,
		string(fp),
	)
	if err != nil {
		CacheErrors.WithLabelValues("pages").Inc()
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		var idx int
		var data []byte
		if err := rows.Scan(&idx, &data); err != nil {
			CacheErrors.WithLabelValues("pages").Inc()
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		if idx != len(pages) {
			break
		}
		page, err := decodePage(data)
		if err != nil {
			CacheErrors.WithLabelValues("pages").Inc()
			return nil, err
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		CacheErrors.WithLabelValues("pages").Inc()
		return nil, fmt.Errorf("iterating pages: %w", err)
	}
	return pages, nil
}

// RecordCount sums records over the contiguous pages of fp.
func (s *SQLiteStore) RecordCount(ctx context.Context, fp filter.Fingerprint) (int, error) {
	pages, err := s.Pages(ctx, fp)
	if err != nil {
		return 0, err
	}
	return countRecords(pages), nil
}

// Trim removes pages with index >= keep.
func (s *SQLiteStore) Trim(ctx context.Context, fp filter.Fingerprint, keep int) error {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM pages WHERE fingerprint = ? AND idx >= ?`,
		string(fp), keep,
	)
	if err != nil {
		CacheErrors.WithLabelValues("trim").Inc()
		return fmt.Errorf("trimming pages: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		CachePages.WithLabelValues("sqlite").Sub(float64(n))
	}
	return nil
}

// Invalidate removes all pages of fp.
func (s *SQLiteStore) Invalidate(ctx context.Context, fp filter.Fingerprint) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM pages WHERE fingerprint = ?`, string(fp))
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("invalidating pages: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		CachePages.WithLabelValues("sqlite").Sub(float64(n))
	}
	return nil
}

// Prune deletes pages stored before cutoff and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM pages WHERE fetched_at < ?`, cutoff.UnixNano())
	if err != nil {
		CacheErrors.WithLabelValues("prune").Inc()
		return 0, fmt.Errorf("pruning pages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned pages: %w", err)
	}
	if n > 0 {
		CachePages.WithLabelValues("sqlite").Sub(float64(n))
	}
	return n, nil
}
