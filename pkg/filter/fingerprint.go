package filter

import (
	"fmt"
	"net/url"
	"strings"
)

// unsetSentinel stands in for optional fields that carry no value.
const unsetSentinel = "*"

// Fingerprint identifies a filter combination. It partitions cached pages.
type Fingerprint string

// String returns the fingerprint as a plain string.
func (f Fingerprint) String() string {
	return string(f)
}

// FingerprintOf derives a deterministic fingerprint from a spec.
// Format: sensor:start=<v>:end=<v>:loc=<v>:type=<v>:sort=<v>
//
// Example:
//
//	sensor:start=2024-05-31:end=2024-06-30:loc=*:type=*:sort=desc
func FingerprintOf(spec Spec) Fingerprint {
	n := spec.Normalize()

	// Field order is fixed
	parts := []string{
		"sensor",
		field("start", n.StartDate),
		field("end", n.EndDate),
		field("loc", n.Location),
		field("type", n.RecordType),
		field("sort", string(n.SortOrder)),
	}

	return Fingerprint(strings.Join(parts, ":"))
}

// field escapes the value so separators inside user input cannot collide.
func field(name, value string) string {
	if value == "" {
		return fmt.Sprintf("%s=%s", name, unsetSentinel)
	}
	return fmt.Sprintf("%s=%s", name, url.QueryEscape(value))
}
