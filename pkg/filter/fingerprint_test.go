package filter

import (
	"strings"
	"testing"
)

func TestFingerprintOf(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want Fingerprint
	}{
		{
			name: "empty spec",
			spec: Spec{},
			want: "sensor:start=*:end=*:loc=*:type=*:sort=desc",
		},
		{
			name: "full spec",
			spec: Spec{
				StartDate:  "2024-05-31",
				EndDate:    "2024-06-30",
				Location:   "Lake Erie",
				RecordType: "water_quality",
				SortOrder:  SortAsc,
			},
			want: "sensor:start=2024-05-31:end=2024-06-30:loc=lake+erie:type=water_quality:sort=asc",
		},
		{
			name: "separator in location is escaped",
			spec: Spec{Location: "site:a=b"},
			want: "sensor:start=*:end=*:loc=site%3Aa%3Db:type=*:sort=desc",
		},
		{
			name: "unparseable date passes through",
			spec: Spec{StartDate: "  yesterday "},
			want: "sensor:start=yesterday:end=*:loc=*:type=*:sort=desc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FingerprintOf(tt.spec); got != tt.want {
				t.Errorf("FingerprintOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFingerprint_Stability(t *testing.T) {
	tests := []struct {
		name string
		a    Spec
		b    Spec
	}{
		{
			name: "whitespace",
			a:    Spec{Location: "  north-station ", RecordType: "weather"},
			b:    Spec{Location: "north-station", RecordType: " weather"},
		},
		{
			name: "date formats",
			a:    Spec{StartDate: "2024-05-31T00:00:00Z", EndDate: "06/30/2024"},
			b:    Spec{StartDate: "2024-05-31", EndDate: "2024-06-30"},
		},
		{
			name: "empty sort means desc",
			a:    Spec{SortOrder: ""},
			b:    Spec{SortOrder: " DESC"},
		},
		{
			name: "case of location",
			a:    Spec{Location: "North-Station"},
			b:    Spec{Location: "north-station"},
		},
		{
			name: "timestamp with offset",
			a:    Spec{EndDate: "2024-06-30T14:00:00+02:00"},
			b:    Spec{EndDate: "2024-06-30T12:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.a.Equal(tt.b) {
				t.Fatalf("specs should be equal after normalization: %+v vs %+v", tt.a.Normalize(), tt.b.Normalize())
			}
			if FingerprintOf(tt.a) != FingerprintOf(tt.b) {
				t.Errorf("fingerprints differ: %q vs %q", FingerprintOf(tt.a), FingerprintOf(tt.b))
			}
		})
	}
}

func TestFingerprint_Distinct(t *testing.T) {
	specs := []Spec{
		{},
		{Location: "a"},
		{RecordType: "a"},
		{StartDate: "2024-01-01"},
		{EndDate: "2024-01-01"},
		{SortOrder: SortAsc},
	}

	seen := make(map[Fingerprint]int)
	for i, s := range specs {
		fp := s.Fingerprint()
		if j, ok := seen[fp]; ok {
			t.Errorf("spec %d and %d share fingerprint %q", j, i, fp)
		}
		seen[fp] = i
	}
}

func TestFingerprint_Prefix(t *testing.T) {
	fp := Spec{Location: "x"}.Fingerprint()
	if !strings.HasPrefix(fp.String(), "sensor:") {
		t.Errorf("fingerprint should start with sensor: got %s", fp)
	}
}

func TestSpec_IsZero(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want bool
	}{
		{name: "empty", spec: Spec{}, want: true},
		{name: "blank strings", spec: Spec{Location: "  ", StartDate: " "}, want: true},
		{name: "sort only", spec: Spec{SortOrder: SortAsc}, want: true},
		{name: "location", spec: Spec{Location: "x"}, want: false},
		{name: "end date", spec: Spec{EndDate: "2024-01-01"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.IsZero(); got != tt.want {
				t.Errorf("IsZero() = %v, want %v", got, tt.want)
			}
		})
	}
}
