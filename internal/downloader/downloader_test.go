package downloader

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/transport"
	"github.com/IshaanNene/webstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeTransport struct {
	fetchType string
	fn        func(ctx context.Context, req *types.Request) (*types.Response, error)
	closed    bool
}

func (f *fakeTransport) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	return f.fn(ctx, req)
}
func (f *fakeTransport) Close() error { f.closed = true; return nil }
func (f *fakeTransport) Type() string { return f.fetchType }

func newTestDownloader(tr *fakeTransport, cfg Config) *Downloader {
	mw := middleware.New(testLogger)
	if cfg.ConcurrentRequests == 0 {
		cfg.ConcurrentRequests = 10
	}
	if cfg.ConcurrentRequestsPerDomain == 0 {
		cfg.ConcurrentRequestsPerDomain = 10
	}
	if cfg.DefaultFetcherType == "" {
		cfg.DefaultFetcherType = "http"
	}
	return New(cfg, mw, map[string]transport.Transport{
		cfg.DefaultFetcherType: tr,
	}, testLogger)
}

func TestDownloaderFetchSuccess(t *testing.T) {
	tr := &fakeTransport{fetchType: "http", fn: func(ctx context.Context, req *types.Request) (*types.Response, error) {
		return &types.Response{StatusCode: 200, FinalURL: req.URLString(), Request: req}, nil
	}}
	d := newTestDownloader(tr, Config{})
	defer d.Close()

	req, err := types.NewRequest("https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}

	resp, retry, err := d.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if retry != nil {
		t.Fatalf("unexpected retry request")
	}
	if resp == nil || resp.StatusCode != 200 {
		t.Fatalf("expected 200 response, got %+v", resp)
	}
}

func TestDownloaderPerHostSlotIsolation(t *testing.T) {
	tr := &fakeTransport{fetchType: "http", fn: func(ctx context.Context, req *types.Request) (*types.Response, error) {
		return &types.Response{StatusCode: 200, FinalURL: req.URLString(), Request: req}, nil
	}}
	d := newTestDownloader(tr, Config{ConcurrentRequestsPerDomain: 2})
	defer d.Close()

	reqA, _ := types.NewRequest("https://a.example.com/1")
	reqB, _ := types.NewRequest("https://b.example.com/1")

	sA := d.getOrCreateSlot(reqA)
	sB := d.getOrCreateSlot(reqB)
	if sA == sB {
		t.Fatalf("expected distinct slots for distinct hosts")
	}
}

func TestDownloaderExceptionChainRecovers(t *testing.T) {
	tr := &fakeTransport{fetchType: "http", fn: func(ctx context.Context, req *types.Request) (*types.Response, error) {
		return nil, &types.FetchError{URL: req.URLString(), Err: types.ErrTimeout, Retryable: true}
	}}
	mw := middleware.New(testLogger)
	mw.Register(&recoveringMiddleware{})

	d := New(Config{ConcurrentRequests: 5, ConcurrentRequestsPerDomain: 5, DefaultFetcherType: "http"}, mw,
		map[string]transport.Transport{"http": tr}, testLogger)
	defer d.Close()

	req, _ := types.NewRequest("https://example.com/flaky")
	resp, retryReq, err := d.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("expected exception chain to recover, got error: %v", err)
	}
	if retryReq != nil {
		t.Fatalf("expected no retry, got one")
	}
	if resp == nil || resp.StatusCode != 599 {
		t.Fatalf("expected recovered synthetic response, got %+v", resp)
	}
}

type recoveringMiddleware struct{}

func (recoveringMiddleware) ProcessException(ctx context.Context, req *types.Request, err error) (*types.Response, *types.Request, error) {
	return &types.Response{StatusCode: 599, FinalURL: req.URLString(), Request: req}, nil, nil
}

func TestSlotConcurrencyLimit(t *testing.T) {
	s := newSlot("example.com", 1, 0, false)
	ctx := context.Background()

	if err := s.acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if free := s.freeTransferSlots(); free != 0 {
		t.Fatalf("expected 0 free slots, got %d", free)
	}

	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := s.acquire(ctx2); err == nil {
		t.Fatal("expected acquire to block until context timeout")
	}

	s.release()
	if !s.idle() {
		t.Fatal("expected slot to be idle after release")
	}
}
