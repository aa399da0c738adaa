package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout        = errors.New("request timed out")
	ErrMaxRetries     = errors.New("max retries exceeded")
	ErrBlocked        = errors.New("blocked by robots.txt")
	ErrMaxDepth       = errors.New("max depth exceeded")
	ErrDuplicate      = errors.New("duplicate URL")
	ErrEmptyResponse  = errors.New("empty response body")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrCrawlStopped   = errors.New("crawl has been stopped")
	ErrNoFetcher      = errors.New("no fetcher available for request")
	ErrProxyExhausted = errors.New("all proxies exhausted")

	// ErrDontCloseSpider is returned (or wrapped) by a spider_idle signal
	// handler to veto an idle-triggered shutdown for the current
	// heartbeat tick.
	ErrDontCloseSpider = errors.New("don't close spider")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ParseError wraps errors that occur during parsing.
type ParseError struct {
	URL      string
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (selector=%q): %v", e.URL, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during storage/export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the processing pipeline.
type PipelineError struct {
	Stage string
	Item  *Item
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// MiddlewareContractError reports a middleware that returned a value its
// chain position does not accept (e.g. a request middleware returning an
// Item).
type MiddlewareContractError struct {
	Middleware string
	Got        any
}

func (e *MiddlewareContractError) Error() string {
	return fmt.Sprintf("middleware %q returned unexpected type %T", e.Middleware, e.Got)
}

// ErrDropItem signals the item pipeline to silently discard the current
// item. Middleware and spider callbacks return it (or wrap it) to drop
// without treating the drop as a failure.
type ErrDropItem struct {
	Reason string
}

func (e *ErrDropItem) Error() string {
	if e.Reason == "" {
		return "item dropped"
	}
	return fmt.Sprintf("item dropped: %s", e.Reason)
}

// ErrCloseSpider signals the engine to begin a graceful shutdown of the
// current crawl. Raised by a spider callback or middleware via errors.As.
type ErrCloseSpider struct {
	Reason string
}

func (e *ErrCloseSpider) Error() string {
	if e.Reason == "" {
		return "spider closed"
	}
	return fmt.Sprintf("spider closed: %s", e.Reason)
}

// UsageError reports invalid configuration or API misuse discovered at
// startup, before any crawling begins.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return fmt.Sprintf("usage error: %v", e.Err) }

func (e *UsageError) Unwrap() error { return e.Err }
