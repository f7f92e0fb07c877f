package pagination

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

var (
	// ErrStaleResponse marks a response for a fingerprint that was reset
	// while the fetch was in flight. It is dropped, not shown to users.
	ErrStaleResponse = errors.New("stale response discarded")

	// ErrLoadInProgress is returned when a page load for the same
	// fingerprint is already running.
	ErrLoadInProgress = errors.New("page load already in progress")

	// ErrFetchTimeout is wrapped by FetchError when the remote call timed out.
	ErrFetchTimeout = errors.New("fetch timed out")
)

// FetchError reports a failed or timed-out remote page fetch.
type FetchError struct {
	Fingerprint filter.Fingerprint
	PageIndex   int
	Timeout     bool
	Err         error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fetch page %d of %s: %v", e.PageIndex, e.Fingerprint, ErrFetchTimeout)
	}
	return fmt.Sprintf("fetch page %d of %s: %v", e.PageIndex, e.Fingerprint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	if e.Timeout {
		return ErrFetchTimeout
	}
	return e.Err
}

// SequenceError reports a page request that would break contiguity.
// It is a programming error in the caller and is never retried.
type SequenceError struct {
	Fingerprint filter.Fingerprint
	Requested   int
	Expected    int
	Reason      string
}

// Error implements the error interface.
func (e *SequenceError) Error() string {
	return fmt.Sprintf("page %d of %s out of sequence (expected %d or 0): %s",
		e.Requested, e.Fingerprint, e.Expected, e.Reason)
}
