package traffic

import (
	"fmt"
	"time"
)

// FetchError is a non-success transport response from an upstream.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

type TimeoutError struct {
	Op    string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ParseError means the payload was malformed at the top level (envelope or root missing).
type ParseError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %s", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ResolutionError means a reference table or site metadata could not be acquired.
type ResolutionError struct {
	Table string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.Table, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type EnrichmentError struct {
	Step string
	Err  error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s: %s", e.Step, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }
