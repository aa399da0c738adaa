// Package engine implements the Execution Engine: it opens a spider,
// pulls its start requests and scheduler output into the Downloader,
// routes downloaded responses into the Scraper, batches scraped items
// into storage, and decides when the crawl is idle and should close.
// Grounded on aioscpy's core/engine.py ExecutionEngine and the teacher's
// deleted engine/engine.go state machine and stats bookkeeping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/webstalk/internal/checkpoint"
	"github.com/IshaanNene/webstalk/internal/downloader"
	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/observability"
	"github.com/IshaanNene/webstalk/internal/scheduler"
	"github.com/IshaanNene/webstalk/internal/scraper"
	"github.com/IshaanNene/webstalk/internal/signalbus"
	"github.com/IshaanNene/webstalk/internal/spider"
	"github.com/IshaanNene/webstalk/internal/storage"
	"github.com/IshaanNene/webstalk/internal/types"
)

// Config controls the engine's lifecycle behavior, from config.EngineConfig.
type Config struct {
	MaxDepth           int
	AllowedDomains     []string
	DisallowedDomains  []string
	MaxRequests        int
	MaxItems           int
	CheckpointInterval time.Duration
	CheckpointPath     string
	LogstatsInterval   time.Duration
	IdleShutdownDelay  time.Duration
	CloseTimeout       time.Duration
	StorageBatchSize   int
}

// Engine is the core crawl orchestrator: it wires the Scheduler,
// Downloader, Scraper, and Middleware Manager together and drives their
// interaction for the lifetime of one open spider.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	sched   scheduler.Scheduler
	dl      *downloader.Downloader
	scr     *scraper.Scraper
	mw      *middleware.Manager
	signals *signalbus.Bus
	store   storage.Storage
	metrics *observability.Metrics

	sp   spider.Spider
	slot *slot

	state atomic.Int32
	stats *Stats

	itemChan chan *types.Item

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// New creates an Engine. The Downloader and Scraper must already be
// wired with the same middleware Manager passed here, so
// middleware-driven retries (emitted as a *types.Request from
// Downloader.Fetch) flow back through Engine.crawl like any other
// discovered request.
func New(cfg Config, sched scheduler.Scheduler, dl *downloader.Downloader, mw *middleware.Manager, signals *signalbus.Bus, store storage.Storage, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if cfg.StorageBatchSize <= 0 {
		cfg.StorageBatchSize = 100
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		sched:    sched,
		dl:       dl,
		mw:       mw,
		signals:  signals,
		store:    store,
		metrics:  metrics,
		stats:    NewStats(),
		itemChan: make(chan *types.Item, 1000),
	}
	return e
}

// SetScraper attaches the Scraper this engine drives. Done as a setter
// (rather than a constructor argument) because the Scraper's CrawlFunc
// and ItemFunc close over the Engine itself.
func (e *Engine) SetScraper(s *scraper.Scraper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scr = s
}

// Start opens spider sp and begins crawling from its StartRequests.
func (e *Engine) Start(ctx context.Context, sp spider.Spider) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("engine is in state %s, cannot start", State(e.state.Load()))
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.sp = sp
	e.slot = newSlot()
	e.stats.StartTime = time.Now()

	e.logger.Info("engine starting", "spider", sp.Name(), "max_depth", e.cfg.MaxDepth)

	if err := e.sched.Open(e.ctx); err != nil {
		return fmt.Errorf("scheduler open: %w", err)
	}
	if err := e.mw.OpenSpider(e.ctx); err != nil {
		return fmt.Errorf("middleware open: %w", err)
	}
	if e.scr != nil {
		if err := e.scr.Open(e.ctx, sp); err != nil {
			return fmt.Errorf("scraper open: %w", err)
		}
	}
	e.signals.Connect(signalbus.SpiderError, e.onSpiderErrorSignal)
	e.signals.Send(e.ctx, signalbus.SpiderOpened, sp)

	e.wg.Add(1)
	go e.storeResults()

	if e.cfg.CheckpointInterval > 0 {
		e.wg.Add(1)
		go e.autoCheckpoint()
	}

	e.wg.Add(1)
	go e.heartbeat()

	startCh, err := sp.StartRequests(e.ctx)
	if err != nil {
		return fmt.Errorf("start requests: %w", err)
	}

	e.wg.Add(1)
	go e.feedStartRequests(startCh)

	e.wg.Add(1)
	go e.crawlLoop()

	return nil
}

// feedStartRequests hands every start request to crawl, one at a time,
// matching aioscpy's start_spider_request pulling from an async
// generator instead of dumping the whole seed set at once.
func (e *Engine) feedStartRequests(startCh <-chan *types.Request) {
	defer e.wg.Done()
	for req := range startCh {
		if err := e.crawl(e.ctx, req); err != nil {
			e.logger.Warn("start request dropped", "url", req.URLString(), "error", err)
		}
	}
}

// crawl is the single entry point for handing a request to the
// scheduler — called for start requests, links a spider callback
// discovers, and retries the retry middleware emits.
func (e *Engine) crawl(ctx context.Context, req *types.Request) error {
	if e.cfg.MaxDepth > 0 && req.Depth > e.cfg.MaxDepth {
		e.stats.URLsFiltered.Add(1)
		e.signals.Send(ctx, signalbus.RequestDropped, req)
		return types.ErrMaxDepth
	}
	if !e.isDomainAllowed(req.Domain()) {
		e.stats.URLsFiltered.Add(1)
		e.signals.Send(ctx, signalbus.RequestDropped, req)
		return fmt.Errorf("domain %q is not allowed", req.Domain())
	}
	if e.cfg.MaxRequests > 0 && e.stats.URLsEnqueued.Load() >= int64(e.cfg.MaxRequests) {
		e.signals.Send(ctx, signalbus.RequestDropped, req)
		return fmt.Errorf("max requests reached")
	}

	if err := e.sched.Enqueue(ctx, req); err != nil {
		e.signals.Send(ctx, signalbus.RequestDropped, req)
		return err
	}
	e.stats.URLsEnqueued.Add(1)
	return nil
}

func (e *Engine) isDomainAllowed(domain string) bool {
	if len(e.cfg.AllowedDomains) > 0 {
		for _, d := range e.cfg.AllowedDomains {
			if d == domain {
				return true
			}
		}
		return false
	}
	for _, d := range e.cfg.DisallowedDomains {
		if d == domain {
			return false
		}
	}
	return true
}

// crawlLoop pulls requests off the scheduler and dispatches them to the
// Downloader, backing out when the Downloader or Scraper is saturated —
// aioscpy's task_beat loop.
func (e *Engine) crawlLoop() {
	defer e.wg.Done()
	for {
		if e.needsBackout() {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		req, err := e.sched.Next(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Error("scheduler next failed", "error", err)
			continue
		}
		if req == nil {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		e.slot.addRequest(req)
		e.stats.ActiveWorkers.Add(1)
		e.wg.Add(1)
		go e.dispatch(req)
	}
}

func (e *Engine) needsBackout() bool {
	if e.state.Load() != int32(StateRunning) {
		return true
	}
	if e.slot != nil && e.slot.isClosing() {
		return true
	}
	if e.dl != nil && e.dl.NeedsBackout() {
		return true
	}
	if e.scr != nil && e.scr.NeedsBackout() {
		return true
	}
	return false
}

func (e *Engine) dispatch(req *types.Request) {
	defer e.wg.Done()
	defer e.stats.ActiveWorkers.Add(-1)
	defer e.slot.removeRequest(req)

	e.stats.RequestsSent.Add(1)
	resp, retryReq, err := e.dl.Fetch(e.ctx, req)

	if retryReq != nil {
		e.stats.RequestsRetried.Add(1)
		if cerr := e.crawl(e.ctx, retryReq); cerr != nil {
			e.logger.Warn("retry requeue failed", "url", retryReq.URLString(), "error", cerr)
		}
		return
	}

	if err != nil {
		e.stats.RequestsFailed.Add(1)
		e.stats.RecordDomain(req.Domain(), false)
		e.handleFinalFailure(req, err)
		return
	}

	if resp == nil {
		// Middleware dropped the request (robots, dedup) without error.
		return
	}

	e.stats.ResponsesOK.Add(1)
	e.stats.BytesDownloaded.Add(int64(len(resp.Body)))
	e.stats.RecordDomain(req.Domain(), true)
	e.signals.Send(e.ctx, signalbus.ResponseReceived, resp)

	if e.scr != nil {
		e.scr.Enqueue(resp, req)
	}
}

// handleFinalFailure routes a permanently failed request (retries and the
// downloader's exception chain exhausted) to its named Errback first —
// mirroring scraper.handleSpiderError's resolution order for in-callback
// failures — then the spider's ExceptionProcessor capability, and finally
// a spider_error signal when neither is available.
func (e *Engine) handleFinalFailure(req *types.Request, err error) {
	e.mu.RLock()
	sp := e.sp
	e.mu.RUnlock()

	if req.Errback != "" {
		if resolver, ok := sp.(spider.CallbackResolver); ok {
			if eb, ok := resolver.Errback(req.Errback); ok {
				out, ebErr := eb(e.ctx, err)
				if ebErr != nil {
					e.logger.Error("errback failed", "url", req.URLString(), "error", ebErr)
					return
				}
				if out != nil {
					e.drainCallbackOutput(out)
				}
				return
			}
		}
	}

	if ep, ok := sp.(spider.ExceptionProcessor); ok {
		if perr := ep.ProcessException(e.ctx, req, err); perr != nil {
			e.logger.Error("spider exception processor failed", "url", req.URLString(), "error", perr)
		}
		return
	}

	e.logger.Warn("request failed permanently", "url", req.URLString(), "error", err)
	e.signals.Send(e.ctx, signalbus.SpiderError, err)
}

// drainCallbackOutput routes requests and items an errback yielded back
// into the crawl — requests through the usual scheduling path, items
// through the item middleware chain and into storage — the same handling
// the scraper gives a normal callback's output.
func (e *Engine) drainCallbackOutput(out <-chan any) {
	for v := range out {
		switch val := v.(type) {
		case *types.Request:
			if cerr := e.crawl(e.ctx, val); cerr != nil {
				e.logger.Warn("errback request dropped", "url", val.URLString(), "error", cerr)
			}
		case *types.Item:
			processed, perr := e.mw.ProcessItem(e.ctx, val)
			if perr != nil {
				e.logger.Error("errback item middleware failed", "url", val.URL, "error", perr)
				continue
			}
			if processed == nil {
				continue
			}
			if oerr := e.OnItem(e.ctx, processed); oerr != nil {
				e.logger.Error("errback item storage failed", "url", processed.URL, "error", oerr)
			}
		case error:
			e.logger.Error("errback yielded error", "error", val)
		}
	}
}

// storeResults batches scraped items from itemChan into storage, flushing
// on a full batch or on channel close.
func (e *Engine) storeResults() {
	defer e.wg.Done()
	batch := make([]*types.Item, 0, e.cfg.StorageBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if e.store != nil {
			if err := e.store.Store(batch); err != nil {
				e.logger.Error("storage error", "error", err, "batch_size", len(batch))
			}
		}
		if e.metrics != nil {
			e.metrics.ItemsStored.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for item := range e.itemChan {
		batch = append(batch, item)
		if len(batch) >= e.cfg.StorageBatchSize {
			flush()
		}
	}
	flush()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("storage close error", "error", err)
		}
	}
}

// OnItem is the Scraper's ItemFunc: it counts the item against stats and
// caps and hands it to the storage batcher.
func (e *Engine) OnItem(ctx context.Context, item *types.Item) error {
	if e.cfg.MaxItems > 0 && e.stats.ItemsScraped.Load() >= int64(e.cfg.MaxItems) {
		e.stats.ItemsDropped.Add(1)
		return fmt.Errorf("max items reached")
	}
	e.stats.ItemsScraped.Add(1)
	select {
	case e.itemChan <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Crawl is the Scraper's CrawlFunc: it hands a request a spider callback
// discovered back into the scheduling pipeline.
func (e *Engine) Crawl(ctx context.Context, req *types.Request) error {
	return e.crawl(ctx, req)
}

// onSpiderErrorSignal is the spider_error listener that makes
// types.ErrCloseSpider (raised by a spider callback or middleware and
// surfaced by the scraper as a SpiderError signal) actually propagate to
// close_spider, instead of only being logged.
func (e *Engine) onSpiderErrorSignal(ctx context.Context, payload any) error {
	var closeErr *types.ErrCloseSpider
	if err, ok := payload.(error); ok && errors.As(err, &closeErr) {
		e.logger.Info("close_spider requested", "reason", closeErr.Reason)
		go e.Stop()
	}
	return nil
}

func (e *Engine) autoCheckpoint() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := checkpoint.SavePending(e.cfg.CheckpointPath, e.slot.snapshot()); err != nil {
				e.logger.Error("checkpoint save failed", "error", err)
			}
		}
	}
}

// IsIdle reports whether the crawl has nothing left to do: the scraper
// is idle, no requests are in flight, and the scheduler has nothing
// queued. Mirrors aioscpy's spider_is_idle.
func (e *Engine) IsIdle() bool {
	if e.scr != nil && !e.scr.IsIdle() {
		return false
	}
	if e.slot != nil && e.slot.inProgressCount() > 0 {
		return false
	}
	if e.sched.HasPendingRequests() {
		return false
	}
	return true
}

// Stats returns the current crawl statistics.
func (e *Engine) Stats() *Stats { return e.stats }

// GetState returns the current engine state.
func (e *Engine) GetState() State { return State(e.state.Load()) }

// Stop begins a graceful shutdown: no further requests are pulled from
// the scheduler, in-flight work drains, and every component closes.
func (e *Engine) Stop() {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) &&
		!e.state.CompareAndSwap(int32(StatePaused), int32(StateStopping)) {
		return
	}
	e.logger.Info("engine stopping", "spider", e.sp.Name())
	if e.slot != nil {
		e.slot.close()
	}

	closeCtx := context.Background()
	var cancel context.CancelFunc
	if e.cfg.CloseTimeout > 0 {
		closeCtx, cancel = context.WithTimeout(closeCtx, e.cfg.CloseTimeout)
		defer cancel()
	}

	if e.scr != nil {
		if err := e.scr.Close(closeCtx); err != nil {
			e.logger.Error("scraper close failed", "error", err)
		}
	}
	e.mw.CloseSpider(closeCtx)
	if err := e.sched.Close(closeCtx, e.slot.snapshot()); err != nil {
		e.logger.Error("scheduler close failed", "error", err)
	}
	if err := e.dl.Close(); err != nil {
		e.logger.Error("downloader close failed", "error", err)
	}

	e.cancel()
	close(e.itemChan)
	e.signals.Send(closeCtx, signalbus.SpiderClosed, e.sp)
	e.state.Store(int32(StateStopped))
}

// Wait blocks until the engine has fully stopped.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.logger.Info("engine stopped", "stats", e.stats.Snapshot())
}

// Pause suspends the crawl loop without closing any component.
func (e *Engine) Pause() {
	if e.state.CompareAndSwap(int32(StateRunning), int32(StatePaused)) {
		e.logger.Info("engine paused")
	}
}

// Resume continues a paused crawl.
func (e *Engine) Resume() {
	if e.state.CompareAndSwap(int32(StatePaused), int32(StateRunning)) {
		e.logger.Info("engine resumed")
	}
}
