package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/webstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestRequest(t *testing.T, rawURL string, priority int) *types.Request {
	t.Helper()
	req, err := types.NewRequest(rawURL)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Priority = priority
	return req
}

func TestMemorySchedulerFIFOWithinPriority(t *testing.T) {
	s := NewMemoryScheduler(testLogger, "")
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	urls := []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
		"https://example.com/4",
	}
	for _, u := range urls {
		if err := s.Enqueue(ctx, newTestRequest(t, u, 0)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for _, want := range urls {
		req, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if req == nil {
			t.Fatalf("expected a request, got nil")
		}
		if got := req.URLString(); got != want {
			t.Fatalf("FIFO violated within priority band: got %s, want %s", got, want)
		}
	}
}

func TestMemorySchedulerHigherPriorityFirst(t *testing.T) {
	s := NewMemoryScheduler(testLogger, "")
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Enqueue(ctx, newTestRequest(t, "https://example.com/low", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, newTestRequest(t, "https://example.com/high", 10)); err != nil {
		t.Fatal(err)
	}

	req, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if req.URLString() != "https://example.com/high" {
		t.Fatalf("expected higher priority request first, got %s", req.URLString())
	}
}

// TestMemorySchedulerConcurrentEnqueueNext exercises Enqueue/Next from many
// goroutines at once — every enqueued request must be delivered exactly
// once, with no loss or duplication under concurrent access.
func TestMemorySchedulerConcurrentEnqueueNext(t *testing.T) {
	s := NewMemoryScheduler(testLogger, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := newTestRequest(t, "https://example.com/item", i%5)
			if err := s.Enqueue(ctx, req); err != nil {
				t.Errorf("enqueue: %v", err)
			}
		}(i)
	}
	wg.Wait()

	seen := 0
	for seen < n {
		req, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if req == nil {
			t.Fatalf("expected %d requests, got %d before scheduler drained", n, seen)
		}
		seen++
	}
	if s.Len() != 0 {
		t.Fatalf("expected scheduler drained, has %d pending", s.Len())
	}
}

func TestMemorySchedulerCloseStopsAcceptingAndPersists(t *testing.T) {
	dir := t.TempDir()
	s := NewMemoryScheduler(testLogger, dir)
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Enqueue(ctx, newTestRequest(t, "https://example.com/pending", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx, nil); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := s.Enqueue(ctx, newTestRequest(t, "https://example.com/after-close", 0)); err != nil {
		t.Fatalf("enqueue after close should be a silent no-op, got error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected queue cleared after close, got %d", s.Len())
	}

	restored := NewMemoryScheduler(testLogger, dir)
	if err := restored.Open(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !restored.HasPendingRequests() {
		t.Fatal("expected checkpointed request to be restored on reopen")
	}
}
