package crawler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSink marks a persistence failure. It aborts the run.
	ErrSink = errors.New("sink failure")
	// ErrBlocked is returned when a page stays blocked after every session reset.
	ErrBlocked = errors.New("blocking detected")
	// ErrNoFetcher is returned when the orchestrator is built without a fetcher.
	ErrNoFetcher = errors.New("no fetcher configured")
)

// Hard-gated record fields, in the order failures are reported.
const (
	FieldTitle   = "title"
	FieldPrice   = "price"
	FieldMileage = "mileage"
	FieldURL     = "url"
)

// ValidationFailure names every field that kept a record from being complete.
type ValidationFailure struct {
	Fields []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("incomplete record: missing or invalid %s", strings.Join(e.Fields, ", "))
}

// StatusError reports a non-success HTTP status that is not a blocking signal.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// ErrNoSink is returned when the orchestrator is built without a sink.
var ErrNoSink = errors.New("no sink configured")
