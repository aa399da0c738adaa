package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Priority levels for request scheduling.
const (
	PriorityHighest = 4
	PriorityHigh    = 3
	PriorityNormal  = 2
	PriorityLow     = 1
	PriorityLowest  = 0
)

// Request represents a unit of work the Scheduler queues, the Downloader
// fetches, and the Scraper hands to a spider callback.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Body is the request body for POST/PUT requests.
	Body []byte

	// Cookies are request-scoped cookies, sent alongside the HTTP
	// transport's cookie jar at fetch time.
	Cookies map[string]string

	// Depth is the crawl depth from the seed URL.
	Depth int

	// Priority controls scheduling order: higher values are served first.
	Priority int

	// MaxRetries is the maximum number of retries for this request.
	MaxRetries int

	// RetryCount tracks the current retry attempt.
	RetryCount int

	// Timeout overrides the global request timeout for this request.
	Timeout time.Duration

	// Meta stores arbitrary metadata attached to this request. Middleware
	// may read and mutate it; it travels with the request into the
	// Response once fetched.
	Meta map[string]any

	// Tag categorizes this request (e.g., "listing", "detail", "pagination").
	Tag string

	// FetcherType selects which Transport handles this request. Empty
	// means the Downloader's configured default.
	FetcherType string

	// Callback names the spider method to invoke on a successful response.
	// Empty means the spider's default Parse method.
	Callback string

	// Errback names the spider method to invoke when the request fails
	// all retries or the response is dropped by middleware.
	Errback string

	// DontFilter bypasses the dedup middleware for this request.
	DontFilter bool

	// Callbacks retains any legacy multi-callback chain from earlier
	// teacher-era spiders; new spiders should use Callback.
	Callbacks []string

	// ParentURL tracks which page this request was discovered on.
	ParentURL string

	// CreatedAt is when this request was created.
	CreatedAt time.Time

	// ID is a unique identifier for this request.
	ID string
}

// NewRequest creates a new Request with sensible defaults.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	return &Request{
		URL:         u,
		Method:      http.MethodGet,
		Headers:     make(http.Header),
		Priority:    PriorityNormal,
		MaxRetries:  3,
		FetcherType: "",
		Meta:        make(map[string]any),
		CreatedAt:   time.Now(),
		ID:          uuid.New().String(),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Clone creates a deep copy of the request.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	clone.Meta = make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		clone.Meta[k] = v
	}
	clone.Cookies = make(map[string]string, len(r.Cookies))
	for k, v := range r.Cookies {
		clone.Cookies[k] = v
	}
	clone.Body = append([]byte(nil), r.Body...)
	clone.Callbacks = append([]string(nil), r.Callbacks...)
	return &clone
}
