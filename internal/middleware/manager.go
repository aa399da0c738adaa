// Package middleware implements the Middleware Manager: a pluggable chain
// the Downloader and Scraper call into at four points (request, response,
// exception, item) plus open/close lifecycle hooks. A single concrete
// type may implement any combination of the capability interfaces below —
// Manager.Register inspects each registration with a type assertion, the
// way the teacher's pipeline hooks were selected by duck-typing in
// Python's hasattr.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IshaanNene/webstalk/internal/types"
)

// RequestMiddleware observes or short-circuits an outgoing request.
// Returning a non-nil Response hands that response straight to the
// response chain, skipping the network call. Returning a non-nil Request
// substitutes what gets downloaded. Either return stops the request
// chain — only the first middleware to respond wins, matching the
// downloader middleware manager's process_request contract.
type RequestMiddleware interface {
	ProcessRequest(ctx context.Context, req *types.Request) (*types.Response, *types.Request, error)
}

// ResponseMiddleware observes or transforms an incoming response. A
// returned Response replaces the running response and the chain
// continues; a returned Request short-circuits the remaining chain and
// tells the caller to treat it as a fresh request instead of a response.
type ResponseMiddleware interface {
	ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response) (*types.Response, *types.Request, error)
}

// ExceptionMiddleware gets a chance to recover a failed download. The
// first middleware to return a non-nil Response or Request wins; if none
// do, the original error propagates.
type ExceptionMiddleware interface {
	ProcessException(ctx context.Context, req *types.Request, err error) (*types.Response, *types.Request, error)
}

// ItemMiddleware transforms a scraped item before storage. Returning a
// nil item (or types.ErrDropItem) drops it.
type ItemMiddleware interface {
	ProcessItem(ctx context.Context, item *types.Item) (*types.Item, error)
}

// OpenHook runs once when the crawl starts.
type OpenHook interface {
	OpenSpider(ctx context.Context) error
}

// CloseHook runs once when the crawl stops, in reverse registration
// order — symmetric with ResponseMiddleware/ExceptionMiddleware.
type CloseHook interface {
	CloseSpider(ctx context.Context) error
}

// Manager holds every registered middleware's applicable chains.
type Manager struct {
	mu sync.RWMutex

	requestChain   []RequestMiddleware
	responseChain  []ResponseMiddleware
	exceptionChain []ExceptionMiddleware
	itemChain      []ItemMiddleware
	openHooks      []OpenHook
	closeHooks     []CloseHook

	logger *slog.Logger
}

// New creates an empty Manager.
func New(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("component", "middleware_manager")}
}

// Register adds mw to every chain it implements. Request/open chains run
// in registration order; response/exception/close chains run in reverse
// registration order (prepend), so the first-registered middleware is
// "first to see" the request on the way out and "last to see" the response
// on the way back — the outbound-symmetric ordering aioscpy gets from
// deque.appendleft.
func (m *Manager) Register(mw any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rm, ok := mw.(RequestMiddleware); ok {
		m.requestChain = append(m.requestChain, rm)
	}
	if rm, ok := mw.(ResponseMiddleware); ok {
		m.responseChain = prependResponse(m.responseChain, rm)
	}
	if em, ok := mw.(ExceptionMiddleware); ok {
		m.exceptionChain = prependException(m.exceptionChain, em)
	}
	if im, ok := mw.(ItemMiddleware); ok {
		m.itemChain = append(m.itemChain, im)
	}
	if oh, ok := mw.(OpenHook); ok {
		m.openHooks = append(m.openHooks, oh)
	}
	if ch, ok := mw.(CloseHook); ok {
		m.closeHooks = prependClose(m.closeHooks, ch)
	}
}

func prependResponse(chain []ResponseMiddleware, mw ResponseMiddleware) []ResponseMiddleware {
	return append([]ResponseMiddleware{mw}, chain...)
}

func prependException(chain []ExceptionMiddleware, mw ExceptionMiddleware) []ExceptionMiddleware {
	return append([]ExceptionMiddleware{mw}, chain...)
}

func prependClose(chain []CloseHook, h CloseHook) []CloseHook {
	return append([]CloseHook{h}, chain...)
}

// OpenSpider runs every registered open hook in registration order.
func (m *Manager) OpenSpider(ctx context.Context) error {
	m.mu.RLock()
	hooks := append([]OpenHook(nil), m.openHooks...)
	m.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OpenSpider(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CloseSpider runs every registered close hook in reverse registration
// order, logging and continuing past individual hook failures so one
// broken middleware can't block shutdown.
func (m *Manager) CloseSpider(ctx context.Context) {
	m.mu.RLock()
	hooks := append([]CloseHook(nil), m.closeHooks...)
	m.mu.RUnlock()

	for _, h := range hooks {
		if err := h.CloseSpider(ctx); err != nil {
			m.logger.Error("close hook failed", "error", err)
		}
	}
}

// ProcessRequest runs the request chain. The first middleware to return a
// non-nil Response or Request stops the chain.
func (m *Manager) ProcessRequest(ctx context.Context, req *types.Request) (*types.Response, *types.Request, error) {
	m.mu.RLock()
	chain := append([]RequestMiddleware(nil), m.requestChain...)
	m.mu.RUnlock()

	for _, mw := range chain {
		resp, newReq, err := mw.ProcessRequest(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		if resp != nil || newReq != nil {
			return resp, newReq, nil
		}
	}
	return nil, nil, nil
}

// ProcessResponse runs the response chain, threading the (possibly
// replaced) response through each middleware. A middleware that returns a
// Request short-circuits the rest of the chain.
func (m *Manager) ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response) (*types.Response, *types.Request, error) {
	m.mu.RLock()
	chain := append([]ResponseMiddleware(nil), m.responseChain...)
	m.mu.RUnlock()

	current := resp
	for _, mw := range chain {
		newResp, newReq, err := mw.ProcessResponse(ctx, req, current)
		if err != nil {
			return nil, nil, err
		}
		if newReq != nil {
			return nil, newReq, nil
		}
		if newResp != nil {
			current = newResp
		}
	}
	return current, nil, nil
}

// ProcessException runs the exception chain. The first middleware to
// return a non-nil Response or Request recovers the failure; if none do,
// the original error is returned unchanged.
func (m *Manager) ProcessException(ctx context.Context, req *types.Request, downloadErr error) (*types.Response, *types.Request, error) {
	m.mu.RLock()
	chain := append([]ExceptionMiddleware(nil), m.exceptionChain...)
	m.mu.RUnlock()

	for _, mw := range chain {
		resp, newReq, err := mw.ProcessException(ctx, req, downloadErr)
		if err != nil {
			return nil, nil, err
		}
		if resp != nil || newReq != nil {
			return resp, newReq, nil
		}
	}
	return nil, nil, downloadErr
}

// ProcessItem runs the item chain in registration order, dropping the
// item the moment any middleware returns nil or types.ErrDropItem.
func (m *Manager) ProcessItem(ctx context.Context, item *types.Item) (*types.Item, error) {
	m.mu.RLock()
	chain := append([]ItemMiddleware(nil), m.itemChain...)
	m.mu.RUnlock()

	current := item
	for _, mw := range chain {
		result, err := mw.ProcessItem(ctx, current)
		if err != nil {
			var drop *types.ErrDropItem
			if ok := asErrDropItem(err, &drop); ok {
				m.logger.Debug("item dropped", "reason", drop.Reason, "url", item.URL)
				return nil, nil
			}
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

func asErrDropItem(err error, target **types.ErrDropItem) bool {
	return errors.As(err, target)
}
