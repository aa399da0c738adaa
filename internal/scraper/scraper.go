// Package scraper implements the Scraper: it takes successfully
// downloaded responses, calls the spider's resolved callback, and routes
// whatever the callback yields — new requests back to the engine, items
// through the item middleware chain and into storage. Grounded on
// aioscpy's core/scraper.py Scraper/Slot pair.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/signalbus"
	"github.com/IshaanNene/webstalk/internal/spider"
	"github.com/IshaanNene/webstalk/internal/types"
)

// Config controls slot sizing and item concurrency, from
// config.ScraperConfig.
type Config struct {
	SlotMaxActiveSize int64
	ConcurrentItems   int
}

// CrawlFunc hands a request discovered by a spider callback back to the
// engine for scheduling.
type CrawlFunc func(ctx context.Context, req *types.Request) error

// ItemFunc hands an item that survived the middleware chain to its
// storage sink.
type ItemFunc func(ctx context.Context, item *types.Item) error

// Scraper drives a single spider's callbacks over queued responses.
//
// Unlike aioscpy, where a download failure can itself reach the
// Scraper as a Failure and be fed to an errback, this Scraper only ever
// receives responses that downloaded successfully — permanently failed
// requests (after retries and the exception chain are exhausted) are
// routed to the spider's Errback directly by the engine, since the
// Scraper has no visibility into the Downloader's retry bookkeeping.
type Scraper struct {
	mw      *middleware.Manager
	signals *signalbus.Bus
	crawl   CrawlFunc
	onItem  ItemFunc
	logger  *slog.Logger
	cfg     Config

	itemSem chan struct{}

	mu     sync.Mutex
	slot   *slot
	sp     spider.Spider
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scraper. crawl and onItem are called for every request
// and item a spider callback yields.
func New(cfg Config, mw *middleware.Manager, signals *signalbus.Bus, crawl CrawlFunc, onItem ItemFunc, logger *slog.Logger) *Scraper {
	if cfg.ConcurrentItems <= 0 {
		cfg.ConcurrentItems = 100
	}
	return &Scraper{
		mw:      mw,
		signals: signals,
		crawl:   crawl,
		onItem:  onItem,
		logger:  logger.With("component", "scraper"),
		cfg:     cfg,
		itemSem: make(chan struct{}, cfg.ConcurrentItems),
	}
}

// Open starts the Scraper against sp's lifetime. It must be called
// before any Enqueue.
func (sc *Scraper) Open(ctx context.Context, sp spider.Spider) error {
	sc.mu.Lock()
	sc.slot = newSlot(sc.cfg.SlotMaxActiveSize)
	sc.sp = sp
	sc.stopCh = make(chan struct{})
	sc.mu.Unlock()

	sc.wg.Add(1)
	go sc.processLoop(ctx)
	return nil
}

// Close stops accepting new work and waits for in-flight scrapes to
// finish.
func (sc *Scraper) Close(ctx context.Context) error {
	sc.mu.Lock()
	if sc.stopCh != nil {
		close(sc.stopCh)
	}
	sc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands a successfully downloaded response to the scraper's
// slot for processing.
func (sc *Scraper) Enqueue(resp *types.Response, req *types.Request) {
	sc.mu.Lock()
	s := sc.slot
	sc.mu.Unlock()
	if s == nil {
		sc.logger.Warn("enqueue called before Open", "url", req.URLString())
		return
	}
	s.addResponseRequest(resp, req)
}

// IsIdle reports whether the scraper has nothing queued or in flight.
// True both when the scraper has never been opened and when its slot
// has drained — the condition the engine polls to decide the crawl can
// finish.
func (sc *Scraper) IsIdle() bool {
	sc.mu.Lock()
	s := sc.slot
	sc.mu.Unlock()
	return s == nil || s.isIdle()
}

// NeedsBackout reports whether the scraper's queued+in-flight byte
// weight has exceeded its configured ceiling, signaling the engine to
// pause pulling new responses off the Downloader.
func (sc *Scraper) NeedsBackout() bool {
	sc.mu.Lock()
	s := sc.slot
	sc.mu.Unlock()
	return s != nil && s.needsBackout()
}

func (sc *Scraper) processLoop(ctx context.Context) {
	defer sc.wg.Done()
	sc.mu.Lock()
	s := sc.slot
	stop := sc.stopCh
	sc.mu.Unlock()

	for {
		for {
			rr, ok := s.next()
			if !ok {
				break
			}
			sc.wg.Add(1)
			go func() {
				defer sc.wg.Done()
				sc.scrape(ctx, rr)
			}()
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (sc *Scraper) scrape(ctx context.Context, rr responseRequest) {
	sc.mu.Lock()
	sp := sc.sp
	s := sc.slot
	sc.mu.Unlock()
	defer s.finishResponse(rr.req, rr.resp)

	resp := rr.resp
	if rp, ok := sp.(spider.ResponseProcessor); ok {
		processed, err := rp.ProcessResponse(ctx, resp)
		if err != nil {
			sc.handleSpiderError(ctx, err, rr.req, resp)
			return
		}
		resp = processed
	}

	out, err := sc.callSpider(ctx, sp, resp, rr.req)
	if err != nil {
		sc.handleSpiderError(ctx, err, rr.req, resp)
		return
	}
	if out == nil {
		return
	}
	sc.handleSpiderOutput(ctx, out, rr.req, resp)
}

// callSpider resolves and invokes the callback a request named, falling
// back to the spider's default Parse.
func (sc *Scraper) callSpider(ctx context.Context, sp spider.Spider, resp *types.Response, req *types.Request) (<-chan any, error) {
	if req.Callback != "" {
		if resolver, ok := sp.(spider.CallbackResolver); ok {
			if cb, ok := resolver.Callback(req.Callback); ok {
				return cb(ctx, resp)
			}
		}
		sc.logger.Warn("callback not found, falling back to Parse", "callback", req.Callback, "url", req.URLString())
	}
	return sp.Parse(ctx, resp)
}

func (sc *Scraper) handleSpiderOutput(ctx context.Context, out <-chan any, req *types.Request, resp *types.Response) {
	for item := range out {
		select {
		case sc.itemSem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		sc.processSpiderOutputItem(ctx, item, req, resp)
		<-sc.itemSem
	}
}

func (sc *Scraper) processSpiderOutputItem(ctx context.Context, output any, req *types.Request, resp *types.Response) {
	switch v := output.(type) {
	case *types.Request:
		if sc.crawl == nil {
			return
		}
		if err := sc.crawl(ctx, v); err != nil {
			sc.logger.Error("crawl callback failed", "url", v.URLString(), "error", err)
		}
	case *types.Item:
		sc.itemFinished(ctx, v, req, resp)
	case error:
		sc.handleSpiderError(ctx, v, req, resp)
	case nil:
	default:
		sc.logger.Error("spider yielded unsupported type", "type", fmt.Sprintf("%T", output), "url", req.URLString())
	}
}

func (sc *Scraper) itemFinished(ctx context.Context, item *types.Item, req *types.Request, resp *types.Response) {
	sc.mu.Lock()
	sp := sc.sp
	sc.mu.Unlock()

	processed, err := sc.mw.ProcessItem(ctx, item)
	if err != nil {
		sc.logger.Error("item middleware chain failed", "url", item.URL, "error", err)
		sc.signals.Send(ctx, signalbus.ItemError, item)
		return
	}
	if processed == nil {
		sc.signals.Send(ctx, signalbus.ItemDropped, item)
		return
	}

	if ip, ok := sp.(spider.ItemProcessor); ok {
		processed, err = ip.ProcessItem(ctx, processed)
		if err != nil {
			var drop *types.ErrDropItem
			if errors.As(err, &drop) {
				sc.signals.Send(ctx, signalbus.ItemDropped, item)
				return
			}
			sc.logger.Error("spider item processor failed", "url", item.URL, "error", err)
			sc.signals.Send(ctx, signalbus.ItemError, item)
			return
		}
		if processed == nil {
			sc.signals.Send(ctx, signalbus.ItemDropped, item)
			return
		}
	}

	if sc.onItem != nil {
		if err := sc.onItem(ctx, processed); err != nil {
			sc.logger.Error("item storage failed", "url", processed.URL, "error", err)
			return
		}
	}
	sc.signals.Send(ctx, signalbus.ItemScraped, processed)
}

func (sc *Scraper) handleSpiderError(ctx context.Context, err error, req *types.Request, resp *types.Response) {
	var closeErr *types.ErrCloseSpider
	if errors.As(err, &closeErr) {
		sc.logger.Info("spider requested close", "reason", closeErr.Reason)
		sc.signals.Send(ctx, signalbus.SpiderError, closeErr)
		return
	}

	sc.mu.Lock()
	sp := sc.sp
	sc.mu.Unlock()

	if req.Errback != "" {
		if resolver, ok := sp.(spider.CallbackResolver); ok {
			if eb, ok := resolver.Errback(req.Errback); ok {
				out, ebErr := eb(ctx, err)
				if ebErr != nil {
					sc.logger.Error("errback failed", "url", req.URLString(), "error", ebErr)
					return
				}
				if out != nil {
					sc.handleSpiderOutput(ctx, out, req, resp)
				}
				return
			}
		}
	}

	sc.logger.Error("spider callback error", "url", req.URLString(), "error", err)
	sc.signals.Send(ctx, signalbus.SpiderError, err)
}
