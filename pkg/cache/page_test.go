package cache

import (
	"testing"
	"time"
)

func TestFreshness_IsExpired(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		fetchedAt time.Time
		want      bool
	}{
		{
			name:      "six minutes old",
			fetchedAt: now.Add(-6 * time.Minute),
			want:      true,
		},
		{
			name:      "exactly at ttl",
			fetchedAt: now.Add(-5 * time.Minute),
			want:      true,
		},
		{
			name:      "just fetched",
			fetchedAt: now,
			want:      false,
		},
		{
			name:      "four minutes old",
			fetchedAt: now.Add(-4 * time.Minute),
			want:      false,
		},
	}

	fresh := Freshness{TTL: 5 * time.Minute, Now: func() time.Time { return now }}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &Page{FetchedAt: tt.fetchedAt}
			if got := fresh.IsExpired(page); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
			if got := IsExpired(page, 5*time.Minute, now); got != tt.want {
				t.Errorf("IsExpired(pure) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreshness_AgeMinutes(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	fresh := Freshness{TTL: 5 * time.Minute, Now: func() time.Time { return now }}

	page := &Page{FetchedAt: now.Add(-90 * time.Second)}
	if got := fresh.AgeMinutes(page); got != 1.5 {
		t.Errorf("AgeMinutes() = %v, want 1.5", got)
	}

	// Clock skew never yields a negative age
	future := &Page{FetchedAt: now.Add(time.Minute)}
	if got := fresh.Age(future); got != 0 {
		t.Errorf("Age() = %v, want 0", got)
	}
}

func TestFreshness_NilPage(t *testing.T) {
	fresh := NewFreshness(0)
	if fresh.TTL != DefaultTTL {
		t.Errorf("TTL = %v, want %v", fresh.TTL, DefaultTTL)
	}
	if !fresh.IsExpired(nil) {
		t.Error("nil page should count as expired")
	}
}

func TestPage_HasMore(t *testing.T) {
	if (&Page{}).HasMore() {
		t.Error("page without cursor should not have more")
	}
	if !(&Page{Cursor: "c1"}).HasMore() {
		t.Error("page with cursor should have more")
	}
}

func TestStamp_Monotonic(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	prev := &Page{FetchedAt: now.Add(time.Minute)}
	page := &Page{}

	stamp(page, prev, now)
	if !page.FetchedAt.Equal(prev.FetchedAt) {
		t.Errorf("FetchedAt moved backwards: got %v, want %v", page.FetchedAt, prev.FetchedAt)
	}

	stamp(page, nil, now)
	if !page.FetchedAt.Equal(now) {
		t.Errorf("FetchedAt = %v, want %v", page.FetchedAt, now)
	}
}
