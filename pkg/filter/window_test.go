package filter

import (
	"testing"
	"time"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWindowPolicy_DefaultFilter(t *testing.T) {
	policy := DefaultWindowPolicy()
	policy.Now = fixedNow(time.Date(2024, 6, 30, 9, 15, 0, 0, time.UTC))

	got := policy.DefaultFilter()
	want := Spec{
		StartDate: "2024-05-31",
		EndDate:   "2024-06-30",
		SortOrder: SortDesc,
	}

	if got != want {
		t.Errorf("DefaultFilter() = %+v, want %+v", got, want)
	}
	if got.Location != "" || got.RecordType != "" {
		t.Error("default filter must leave location and record type unset")
	}
}

func TestWindowPolicy_Apply(t *testing.T) {
	policy := WindowPolicy{
		Days:      7,
		RecordCap: 250,
		Now:       fixedNow(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
	}

	tests := []struct {
		name      string
		spec      Spec
		wantSpec  Spec
		wantLimit int
	}{
		{
			name:      "no filter gets window and cap",
			spec:      Spec{},
			wantSpec:  Spec{StartDate: "2024-03-03", EndDate: "2024-03-10", SortOrder: SortDesc},
			wantLimit: 250,
		},
		{
			name:      "sort order survives default",
			spec:      Spec{SortOrder: SortAsc},
			wantSpec:  Spec{StartDate: "2024-03-03", EndDate: "2024-03-10", SortOrder: SortAsc},
			wantLimit: 250,
		},
		{
			name:      "explicit filter is not capped",
			spec:      Spec{Location: " Dock-3 "},
			wantSpec:  Spec{Location: "dock-3", SortOrder: SortDesc},
			wantLimit: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSpec, gotLimit := policy.Apply(tt.spec)
			if gotSpec != tt.wantSpec {
				t.Errorf("Apply() spec = %+v, want %+v", gotSpec, tt.wantSpec)
			}
			if gotLimit != tt.wantLimit {
				t.Errorf("Apply() limit = %d, want %d", gotLimit, tt.wantLimit)
			}
		})
	}
}

func TestWindowPolicy_ZeroValueFallsBack(t *testing.T) {
	policy := WindowPolicy{Now: fixedNow(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))}

	spec, limit := policy.Apply(Spec{})
	if spec.StartDate != "2024-05-31" {
		t.Errorf("StartDate = %s, want 2024-05-31", spec.StartDate)
	}
	if limit != DefaultRecordCap {
		t.Errorf("limit = %d, want %d", limit, DefaultRecordCap)
	}
}
