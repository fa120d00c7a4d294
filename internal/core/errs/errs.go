// Package errs defines the internal error kinds classified and propagated
// between the acquisition pipeline's layers. None of these ever reach a
// public caller directly — every public call degrades to a default Quote
// instead (see the resolver and dispatcher packages).
package errs

import (
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Sentinel causes, wrapped by the concrete errors below so callers can
// recover them with errors.Is.
var (
	ErrCache       = errors.New("cache error")
	ErrBlacklisted = errors.New("symbol blacklisted")
	ErrCircuitOpen = errors.New("circuit open")
	ErrBudget      = errors.New("budget exhausted")
	ErrCancelled   = errors.New("cancelled")
)

// SourceError wraps a failure from a single source attempt, classified
// into one of the error kinds the reorder logic and retry policy key off.
type SourceError struct {
	SourceID string
	Kind     quote.ErrorKind
	Err      error
	// RetryAfter is the upstream-suggested delay before retrying (from an
	// HTTP 429's Retry-After header), zero if none was given.
	RetryAfter time.Duration
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Retryable reports whether this source error's kind should be retried by
// the resolver's retry policy.
func (e *SourceError) Retryable() bool {
	switch e.Kind {
	case quote.ErrorKindTimeout, quote.ErrorKindNetwork, quote.ErrorKindRateLimit:
		return true
	default:
		return false
	}
}

// ExhaustedError is returned when every source in the ordered list for a
// data type has failed.
type ExhaustedError struct {
	DataType quote.DataType
	Symbol   string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all sources exhausted for %s/%s: %v", e.DataType, e.Symbol, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// CacheError wraps a failure from the cache store, always treated as a
// cache miss by callers.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return errors.Join(ErrCache, e.Err) }
