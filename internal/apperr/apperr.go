/**
 * @description
 * Application error taxonomy for Macronet Backend.
 * Crawl, sync and analysis code returns these types so callers can route
 * failures correctly: reschedule on rate-limit timeouts, isolate per-series
 * fetch failures, abort a single source on systemic failures, and record
 * "not computed" (rather than erroring the pass) on insufficient data.
 *
 * @dependencies
 * - standard "errors"
 * - standard "fmt"
 * - standard "time"
 */

package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is the sentinel for missing entities. Wrap with NotFound to
// attach the entity kind and key; match with errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the entity kind and lookup key.
func NotFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
}

// ValidationError rejects bad input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a single field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RateLimitTimeout means a crawl task waited the configured bound for a
// rate-limiter token and never got one. Transient: the caller must
// reschedule, not retry immediately.
type RateLimitTimeout struct {
	Source string
	Waited time.Duration
}

func (e *RateLimitTimeout) Error() string {
	return fmt.Sprintf("rate limit timeout for source %s after %s", e.Source, e.Waited)
}

// IsRateLimitTimeout reports whether err is (or wraps) a RateLimitTimeout.
func IsRateLimitTimeout(err error) bool {
	var rl *RateLimitTimeout
	return errors.As(err, &rl)
}

// FetchFailure is a transient network or provider error scoped to one
// series. It never aborts the rest of the source's crawl; the series is
// retried on the next cadence.
type FetchFailure struct {
	Source     string
	ExternalID string
	Err        error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch failed for %s/%s: %v", e.Source, e.ExternalID, e.Err)
}

func (e *FetchFailure) Unwrap() error { return e.Err }

// IsFetchFailure reports whether err is (or wraps) a FetchFailure.
func IsFetchFailure(err error) bool {
	var ff *FetchFailure
	return errors.As(err, &ff)
}

// SystemicCrawlFailure is a source-level failure (bad credentials, provider
// outage, config error) that aborts the remaining crawl for that source.
// Other sources are unaffected.
type SystemicCrawlFailure struct {
	Source string
	Err    error
}

func (e *SystemicCrawlFailure) Error() string {
	return fmt.Sprintf("systemic crawl failure for source %s: %v", e.Source, e.Err)
}

func (e *SystemicCrawlFailure) Unwrap() error { return e.Err }

// IsSystemic reports whether err is (or wraps) a SystemicCrawlFailure.
func IsSystemic(err error) bool {
	var sf *SystemicCrawlFailure
	return errors.As(err, &sf)
}

// InsufficientData means an analysis precondition (minimum overlapping
// sample size) was not met. Recorded as "not computed", never an abort.
type InsufficientData struct {
	Needed int
	Got    int
}

func (e *InsufficientData) Error() string {
	return fmt.Sprintf("insufficient data: need %d overlapping observations, got %d", e.Needed, e.Got)
}

// IsInsufficientData reports whether err is (or wraps) an InsufficientData.
func IsInsufficientData(err error) bool {
	var id *InsufficientData
	return errors.As(err, &id)
}
