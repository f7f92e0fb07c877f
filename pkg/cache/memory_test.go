package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{"id": i}
	}
	return out
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
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
	if got.Len() != 3 {
		t.Errorf("Len() = %d, want 3", got.Len())
	}
	if got.Cursor != "c1" {
		t.Errorf("Cursor = %q, want c1", got.Cursor)
	}
	if !got.FetchedAt.Equal(now) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, now)
	}
	if !page.FetchedAt.Equal(now) {
		t.Error("Put should reflect the stamp back to the caller")
	}
}

func TestMemoryStore_Get_CacheMiss(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fp := filter.Spec{}.Fingerprint()

	if _, err := store.Get(ctx, fp, 0); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}

	_ = store.Put(ctx, fp, 0, &Page{})
	if _, err := store.Get(ctx, fp, 1); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for missing index, got %v", err)
	}
}

func TestMemoryStore_Put_NilPage(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), "fp", 0, nil); err == nil {
		t.Error("Put with nil page should return error")
	}
}

func TestMemoryStore_Put_FetchedAtMonotonic(t *testing.T) {
	clock := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	fp := filter.Spec{}.Fingerprint()

	_ = store.Put(ctx, fp, 0, &Page{})

	// Clock steps backwards before the refresh
	clock = clock.Add(-time.Minute)
	_ = store.Put(ctx, fp, 0, &Page{Records: records(1)})

	got, _ := store.Get(ctx, fp, 0)
	want := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	if !got.FetchedAt.Equal(want) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, want)
	}
	if got.Len() != 1 {
		t.Error("refresh should overwrite records")
	}
}

func TestMemoryStore_RecordCount_Contiguous(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fp := filter.Spec{}.Fingerprint()

	_ = store.Put(ctx, fp, 0, &Page{Records: records(10)})
	_ = store.Put(ctx, fp, 1, &Page{Records: records(10)})
	// Gap at index 2; index 3 must not be counted
	_ = store.Put(ctx, fp, 3, &Page{Records: records(7)})

	count, err := store.RecordCount(ctx, fp)
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != 20 {
		t.Errorf("RecordCount() = %d, want 20", count)
	}

	pages, _ := store.Pages(ctx, fp)
	if len(pages) != 2 {
		t.Errorf("Pages() returned %d pages, want 2", len(pages))
	}
}

func TestMemoryStore_TrimAndInvalidate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fp := filter.Spec{}.Fingerprint()

	for i := 0; i < 3; i++ {
		_ = store.Put(ctx, fp, i, &Page{Records: records(2)})
	}

	if err := store.Trim(ctx, fp, 1); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if _, err := store.Get(ctx, fp, 1); err != ErrCacheMiss {
		t.Errorf("page 1 should be trimmed, got %v", err)
	}
	if _, err := store.Get(ctx, fp, 0); err != nil {
		t.Errorf("page 0 should survive trim: %v", err)
	}

	if err := store.Invalidate(ctx, fp); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.Get(ctx, fp, 0); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Invalidate, got %v", err)
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	clock := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(
		WithMaxFingerprints(2),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	ctx := context.Background()

	a := filter.Spec{Location: "a"}.Fingerprint()
	b := filter.Spec{Location: "b"}.Fingerprint()
	c := filter.Spec{Location: "c"}.Fingerprint()

	_ = store.Put(ctx, a, 0, &Page{})
	_ = store.Put(ctx, b, 0, &Page{})
	_ = store.Put(ctx, c, 0, &Page{})

	if store.Fingerprints() != 2 {
		t.Fatalf("Fingerprints() = %d, want 2", store.Fingerprints())
	}
	if _, err := store.Get(ctx, a, 0); err != ErrCacheMiss {
		t.Error("least recently written fingerprint should be evicted")
	}
	if _, err := store.Get(ctx, c, 0); err != nil {
		t.Errorf("newest fingerprint should be retained: %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fp := filter.Spec{}.Fingerprint()

	_ = store.Put(ctx, fp, 0, &Page{Records: records(2)})

	got, _ := store.Get(ctx, fp, 0)
	got.Records = append(got.Records, Record{"id": 99})

	again, _ := store.Get(ctx, fp, 0)
	if again.Len() != 2 {
		t.Errorf("stored page mutated through returned copy: Len() = %d", again.Len())
	}
}
