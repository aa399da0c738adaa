// Package downloader implements the Downloader: the component that
// takes requests off the Scheduler, shards them across per-host slots
// for concurrency and pacing, runs them through the Middleware Manager
// around the actual network fetch, and hands results back as responses
// (or routes failures through the exception chain). Grounded on
// aioscpy's core/downloader/__init__.py Downloader/Slot pair.
package downloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/transport"
	"github.com/IshaanNene/webstalk/internal/types"
)

// Config controls slot sizing and pacing. Values come from
// config.DownloaderConfig.
type Config struct {
	ConcurrentRequests          int
	ConcurrentRequestsPerDomain int
	ConcurrentRequestsPerIP     bool
	Delay                       time.Duration
	RandomizeDelay              bool
	DefaultFetcherType          string
	SlotIdleTimeout             time.Duration
}

// Downloader fetches requests, one per-host slot at a time, through a
// chain of transports selected by Request.FetcherType.
type Downloader struct {
	cfg        Config
	mw         *middleware.Manager
	transports map[string]transport.Transport
	keyer      *slotKeyer
	logger     *slog.Logger

	mu          sync.Mutex
	slots       map[string]*slot
	totalActive int

	gcStop chan struct{}
	gcDone chan struct{}
}

// New creates a Downloader. transports maps Request.FetcherType (with ""
// resolving to cfg.DefaultFetcherType) to a concrete Transport.
func New(cfg Config, mw *middleware.Manager, transports map[string]transport.Transport, logger *slog.Logger) *Downloader {
	d := &Downloader{
		cfg:        cfg,
		mw:         mw,
		transports: transports,
		keyer:      newSlotKeyer(cfg.ConcurrentRequestsPerIP),
		logger:     logger.With("component", "downloader"),
		slots:      make(map[string]*slot),
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	go d.gcLoop()
	return d
}

// Fetch runs req through ProcessRequest, the selected transport's Fetch
// (inside the per-host slot's concurrency/pacing gate), and
// ProcessResponse. A transport error is routed through ProcessException;
// if that recovers a response or a retry request, it's returned instead
// of the error. A nil response with a nil error and nil retry request
// means the request was dropped by middleware (e.g. robots, dedup) —
// callers should treat that as "no output", not a failure.
func (d *Downloader) Fetch(ctx context.Context, req *types.Request) (*types.Response, *types.Request, error) {
	if resp, newReq, err := d.mw.ProcessRequest(ctx, req); err != nil {
		if errors.Is(err, types.ErrDuplicate) || errors.Is(err, types.ErrBlocked) {
			return nil, nil, nil
		}
		return nil, nil, err
	} else if resp != nil || newReq != nil {
		if resp != nil {
			return d.runResponseChain(ctx, req, resp)
		}
		return nil, newReq, nil
	}

	s := d.getOrCreateSlot(req)
	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.release()

	tr := d.transportFor(req)
	resp, fetchErr := tr.Fetch(ctx, req)
	if fetchErr != nil {
		recovered, retryReq, err := d.mw.ProcessException(ctx, req, fetchErr)
		if err != nil {
			return nil, nil, err
		}
		if retryReq != nil {
			return nil, retryReq, nil
		}
		if recovered == nil {
			return nil, nil, fetchErr
		}
		resp = recovered
	}

	return d.runResponseChain(ctx, req, resp)
}

func (d *Downloader) runResponseChain(ctx context.Context, req *types.Request, resp *types.Response) (*types.Response, *types.Request, error) {
	finalResp, retryReq, err := d.mw.ProcessResponse(ctx, req, resp)
	if err != nil {
		return nil, nil, err
	}
	if retryReq != nil {
		return nil, retryReq, nil
	}
	return finalResp, nil, nil
}

func (d *Downloader) transportFor(req *types.Request) transport.Transport {
	ft := req.FetcherType
	if ft == "" {
		ft = d.cfg.DefaultFetcherType
	}
	if tr, ok := d.transports[ft]; ok {
		return tr
	}
	if tr, ok := d.transports[d.cfg.DefaultFetcherType]; ok {
		return tr
	}
	for _, tr := range d.transports {
		return tr
	}
	return nil
}

func (d *Downloader) getOrCreateSlot(req *types.Request) *slot {
	key := d.keyer.key(req)

	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.slots[key]; ok {
		return s
	}
	s := newSlot(key, d.cfg.ConcurrentRequestsPerDomain, d.cfg.Delay, d.cfg.RandomizeDelay)
	d.slots[key] = s
	return s
}

// Concurrency reports the global concurrency ceiling configured for this
// downloader, independent of how many per-host slots exist.
func (d *Downloader) Concurrency() int {
	return d.cfg.ConcurrentRequests
}

// NeedsBackout reports whether the downloader is at its global
// concurrency ceiling and should stop pulling new requests from the
// scheduler — mirrors aioscpy's Downloader.needs_backout. The engine's
// crawl loop checks this alongside the scraper's own backout check.
func (d *Downloader) NeedsBackout() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	active := 0
	for _, s := range d.slots {
		active += s.activeCount()
	}
	return active >= d.cfg.ConcurrentRequests
}

// gcLoop reclaims slots that have been idle past SlotIdleTimeout, every
// 60 seconds — matching aioscpy's periodic slot garbage collection.
func (d *Downloader) gcLoop() {
	defer close(d.gcDone)
	interval := 60 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeout := d.cfg.SlotIdleTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			d.collectIdleSlots(timeout)
		}
	}
}

func (d *Downloader) collectIdleSlots(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, s := range d.slots {
		if s.idle() && s.idleSince() > timeout {
			delete(d.slots, key)
			d.logger.Debug("slot reclaimed", "key", key)
		}
	}
}

// Close stops the slot GC loop and closes every registered transport.
func (d *Downloader) Close() error {
	close(d.gcStop)
	<-d.gcDone

	var firstErr error
	for _, tr := range d.transports {
		if err := tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
