// Package transport implements the pluggable fetch layer the Downloader
// calls into once a request clears the middleware chain: an HTTP
// transport for plain requests and a headless-browser transport for
// JS-rendered pages, selected per request by Request.FetcherType.
package transport

import (
	"context"

	"github.com/IshaanNene/webstalk/internal/types"
)

// Transport performs the actual network fetch for a request. It never
// sees middleware, retries, or scheduling — those all live above it.
type Transport interface {
	// Fetch retrieves req and returns the resulting response.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the transport (connections,
	// browser processes, proxy health-checkers).
	Close() error

	// Type identifies this transport, matching Request.FetcherType.
	Type() string
}
