package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache", "pages.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PutAndGet(t *testing.T) {
	store := openTestSQLite(t)
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	fp := filter.Spec{Location: "dock"}.Fingerprint()

	page := &Page{Records: records(3), Cursor: "c1", PageSize: 3}
	if err := store.Put(ctx, fp, 0, page); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, fp, 0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Len() != 3 || got.Cursor != "c1" {
		t.Errorf("got %d records cursor %q, want 3 records cursor c1", got.Len(), got.Cursor)
	}
	if !got.FetchedAt.Equal(now) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, now)
	}
	if !page.FetchedAt.Equal(now) {
		t.Error("Put should reflect the stamp back to the caller")
	}
}

func TestSQLiteStore_Get_CacheMiss(t *testing.T) {
	store := openTestSQLite(t)

	_, err := store.Get(context.Background(), filter.Spec{}.Fingerprint(), 0)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestSQLiteStore_Put_Nil(t *testing.T) {
	store := openTestSQLite(t)

	err := store.Put(context.Background(), filter.Spec{}.Fingerprint(), 0, nil)
	if !errors.Is(err, ErrInvalidPage) {
		t.Errorf("Put(nil) error = %v, want ErrInvalidPage", err)
	}
}

func TestSQLiteStore_Put_FetchedAtMonotonic(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	fp := filter.Spec{Location: "dock"}.Fingerprint()

	later := time.Date(2024, 6, 30, 12, 5, 0, 0, time.UTC)
	store.now = func() time.Time { return later }
	if err := store.Put(ctx, fp, 0, &Page{Records: records(1)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Clock moved backwards
	store.now = func() time.Time { return later.Add(-time.Minute) }
	if err := store.Put(ctx, fp, 0, &Page{Records: records(2)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, fp, 0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (overwrite)", got.Len())
	}
	if !got.FetchedAt.Equal(later) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, later)
	}
}

func TestSQLiteStore_PagesContiguous(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	fp := filter.Spec{Location: "dock"}.Fingerprint()

	for _, idx := range []int{0, 1, 3} {
		if err := store.Put(ctx, fp, idx, &Page{Records: records(2), Cursor: "next"}); err != nil {
			t.Fatalf("Put(%d) failed: %v", idx, err)
		}
	}

	pages, err := store.Pages(ctx, fp)
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("len(Pages) = %d, want 2 (gap at index 2)", len(pages))
	}

	count, err := store.RecordCount(ctx, fp)
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != 4 {
		t.Errorf("RecordCount = %d, want 4", count)
	}
}

func TestSQLiteStore_TrimAndInvalidate(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	fp := filter.Spec{Location: "dock"}.Fingerprint()
	other := filter.Spec{Location: "yard"}.Fingerprint()

	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, fp, i, &Page{Records: records(1)}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := store.Put(ctx, other, 0, &Page{Records: records(1)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Trim(ctx, fp, 1); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if _, err := store.Get(ctx, fp, 1); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("page 1 after Trim: err = %v, want ErrCacheMiss", err)
	}
	if _, err := store.Get(ctx, fp, 0); err != nil {
		t.Errorf("page 0 after Trim: %v", err)
	}

	if err := store.Invalidate(ctx, fp); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.Get(ctx, fp, 0); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("page 0 after Invalidate: err = %v, want ErrCacheMiss", err)
	}
	if _, err := store.Get(ctx, other, 0); err != nil {
		t.Errorf("other fingerprint should survive Invalidate: %v", err)
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	fp := filter.Spec{Location: "dock"}.Fingerprint()
	base := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	if err := store.Put(ctx, fp, 0, &Page{Records: records(1)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := store.Put(ctx, fp, 1, &Page{Records: records(1)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	n, err := store.Prune(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d pages, want 1", n)
	}
	if _, err := store.Get(ctx, fp, 1); err != nil {
		t.Errorf("newer page should survive Prune: %v", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	ctx := context.Background()
	fp := filter.Spec{Location: "dock"}.Fingerprint()

	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	if err := store.Put(ctx, fp, 0, &Page{Records: records(2), Cursor: "c1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, fp, 0)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Cursor != "c1" || got.Len() != 2 {
		t.Errorf("got cursor %q with %d records, want c1 with 2", got.Cursor, got.Len())
	}
}
