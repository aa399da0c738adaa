// Package signalbus implements an in-process publish/subscribe bus used by
// the engine, downloader, scraper, and middleware to announce lifecycle
// events (spider opened/closed, item scraped/dropped, request dropped)
// without those components importing each other.
package signalbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IshaanNene/webstalk/internal/types"
)

// Signal names the well-known events the core emits.
type Signal string

const (
	SpiderOpened   Signal = "spider_opened"
	SpiderIdle     Signal = "spider_idle"
	SpiderClosed   Signal = "spider_closed"
	SpiderError    Signal = "spider_error"
	RequestDropped Signal = "request_dropped"
	ResponseReceived Signal = "response_received"
	ItemScraped    Signal = "item_scraped"
	ItemDropped    Signal = "item_dropped"
	ItemError      Signal = "item_error"
)

// Handler receives a signal's payload. A Handler error is logged and
// isolated: it never stops dispatch to the remaining handlers.
type Handler func(ctx context.Context, payload any) error

// Bus dispatches signals to handlers in the order they were registered,
// mirroring the teacher's "append = runs after what's already registered"
// ordering convention used across the Manager chains.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Signal][]Handler
	logger   *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Signal][]Handler),
		logger:   logger.With("component", "signalbus"),
	}
}

// Connect registers a handler for a signal.
func (b *Bus) Connect(sig Signal, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[sig] = append(b.handlers[sig], h)
}

// Send dispatches a signal to every registered handler in registration
// order. Handler failures are logged and do not interrupt dispatch or
// propagate to the caller — send_catch_log semantics.
func (b *Bus) Send(ctx context.Context, sig Signal, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[sig]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Error("signal handler failed", "signal", sig, "error", err)
		}
	}
}

// SendIdle dispatches SpiderIdle and reports whether the caller may
// proceed to close the spider. A handler vetoes closure for this tick by
// returning types.ErrDontCloseSpider (or an error wrapping it) —
// aioscpy's DontCloseSpider exception — in which case proceed is false.
// Other handler errors are logged like Send and do not veto.
func (b *Bus) SendIdle(ctx context.Context, payload any) (proceed bool) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[SpiderIdle]...)
	b.mu.RUnlock()

	proceed = true
	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			if errors.Is(err, types.ErrDontCloseSpider) {
				proceed = false
				continue
			}
			b.logger.Error("signal handler failed", "signal", SpiderIdle, "error", err)
		}
	}
	return proceed
}

// Disconnect removes all handlers for a signal. Useful for test cleanup.
func (b *Bus) Disconnect(sig Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, sig)
}
