package scraper

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/webstalk/internal/middleware"
	"github.com/IshaanNene/webstalk/internal/signalbus"
	"github.com/IshaanNene/webstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type stubSpider struct {
	name   string
	yields []any
}

func (s *stubSpider) Name() string                       { return s.name }
func (s *stubSpider) StartURLs() []string                { return nil }
func (s *stubSpider) CustomSettings() map[string]any      { return nil }
func (s *stubSpider) StartRequests(ctx context.Context) (<-chan *types.Request, error) {
	ch := make(chan *types.Request)
	close(ch)
	return ch, nil
}

func (s *stubSpider) Parse(ctx context.Context, resp *types.Response) (<-chan any, error) {
	ch := make(chan any, len(s.yields))
	for _, y := range s.yields {
		ch <- y
	}
	close(ch)
	return ch, nil
}

func TestScraperRoutesItemsAndRequests(t *testing.T) {
	item := types.NewItem("https://example.com/a")
	item.Set("title", "hello")
	req2, _ := types.NewRequest("https://example.com/b")

	sp := &stubSpider{name: "stub", yields: []any{item, req2}}

	var mu sync.Mutex
	var gotItems []*types.Item
	var gotRequests []*types.Request

	mw := middleware.New(testLogger)
	signals := signalbus.New(testLogger)

	sc := New(Config{}, mw, signals,
		func(ctx context.Context, r *types.Request) error {
			mu.Lock()
			gotRequests = append(gotRequests, r)
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, it *types.Item) error {
			mu.Lock()
			gotItems = append(gotItems, it)
			mu.Unlock()
			return nil
		},
		testLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sc.Open(ctx, sp); err != nil {
		t.Fatal(err)
	}

	req1, _ := types.NewRequest("https://example.com/a")
	resp := &types.Response{StatusCode: 200, Body: []byte("<html></html>"), Request: req1}
	sc.Enqueue(resp, req1)

	deadline := time.Now().Add(2 * time.Second)
	for !sc.IsIdle() || len(gotItems) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for scraper to drain")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotItems) != 1 || gotItems[0].GetString("title") != "hello" {
		t.Fatalf("expected one item with title hello, got %+v", gotItems)
	}
	if len(gotRequests) != 1 || gotRequests[0].URLString() != "https://example.com/b" {
		t.Fatalf("expected one forwarded request, got %+v", gotRequests)
	}
}

func TestScraperIsIdleBeforeOpen(t *testing.T) {
	mw := middleware.New(testLogger)
	signals := signalbus.New(testLogger)
	sc := New(Config{}, mw, signals, nil, nil, testLogger)
	if !sc.IsIdle() {
		t.Fatal("expected scraper to be idle before Open")
	}
}
