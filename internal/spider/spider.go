// Package spider defines the contract a crawl target implements. The
// Execution Engine drives a Spider; it never inspects a Spider's internals
// beyond this interface and the optional capability interfaces below.
package spider

import (
	"context"

	"github.com/IshaanNene/webstalk/internal/types"
)

// Spider is the contract every crawl target implements.
type Spider interface {
	// Name identifies the spider, used in logs and stats keys.
	Name() string

	// StartURLs returns the seed URLs used when StartRequests is not
	// overridden.
	StartURLs() []string

	// CustomSettings returns per-spider setting overrides merged over the
	// global config before the crawl starts. Return nil for none.
	CustomSettings() map[string]any

	// StartRequests produces the initial batch of requests. The channel
	// closes when no more start requests will be produced.
	StartRequests(ctx context.Context) (<-chan *types.Request, error)

	// Parse is the default callback invoked for a response whose request
	// didn't name a specific Callback. It yields *types.Request and
	// *types.Item values on the returned channel.
	Parse(ctx context.Context, resp *types.Response) (<-chan any, error)
}

// RequestProcessor is an optional capability a Spider may implement to
// observe or mutate every outgoing request before it reaches the
// Downloader, independent of the middleware chain.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, req *types.Request) (*types.Request, error)
}

// ResponseProcessor is an optional capability invoked on every response
// before scraping, regardless of which callback will handle it.
type ResponseProcessor interface {
	ProcessResponse(ctx context.Context, resp *types.Response) (*types.Response, error)
}

// ExceptionProcessor is an optional capability invoked when a request
// ultimately fails (after retries) and has no Errback.
type ExceptionProcessor interface {
	ProcessException(ctx context.Context, req *types.Request, err error) error
}

// ItemProcessor is an optional capability a Spider implements to inspect
// or transform items it produced before they reach the item pipeline.
type ItemProcessor interface {
	ProcessItem(ctx context.Context, item *types.Item) (*types.Item, error)
}

// Callback resolves a named callback method on a Spider. Spiders that
// support named callbacks (Request.Callback / Request.Errback) other than
// the default Parse implement this; the scraper falls back to Parse when
// a request's Callback is empty or the spider doesn't implement Callback.
type CallbackResolver interface {
	Callback(name string) (func(ctx context.Context, resp *types.Response) (<-chan any, error), bool)
	Errback(name string) (func(ctx context.Context, err error) (<-chan any, error), bool)
}
