package downloader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// slot tracks per-host concurrency and pacing, mirroring aioscpy's Slot:
// a bounded number of requests may be "active" (in flight) at once, and a
// delay is enforced between dispatches. Where aioscpy computes a sleep
// penalty by hand (download_delay() jittered by random.uniform), slot
// uses a rate.Limiter with burst 1 that spaces dispatches at least delay
// apart. randomizeDelay adds no jitter: the spacing is always the plain
// delay.
type slot struct {
	key string

	concurrency int
	limiter     *rate.Limiter

	mu         sync.Mutex
	active     int
	lastUsed   time.Time
	inProgress int // requests enqueued on this slot but not yet finished
}

func newSlot(key string, concurrency int, delay time.Duration, randomizeDelay bool) *slot {
	interval := delay
	if randomizeDelay && delay > 0 {
		// aioscpy jitters uniformly in [0.5*delay, 1.5*delay]; a limiter
		// can't jitter per-reservation, so it runs at the midpoint (the
		// unjittered delay) and no jitter is applied.
		interval = delay
	}

	var limiter *rate.Limiter
	if interval <= 0 {
		limiter = rate.NewLimiter(rate.Inf, concurrency)
	} else {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &slot{
		key:         key,
		concurrency: concurrency,
		limiter:     limiter,
		lastUsed:    time.Now(),
	}
}

// freeTransferSlots reports how many more requests this slot can accept
// before hitting its concurrency ceiling — aioscpy's free_transfer_slots.
func (s *slot) freeTransferSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.concurrency - s.active
}

// acquire blocks until both a concurrency token and a rate-limiter
// reservation are available, or ctx is done. It marks the slot busy on
// success; the caller must call release when the download completes.
func (s *slot) acquire(ctx context.Context) error {
	s.mu.Lock()
	for s.active >= s.concurrency {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		s.mu.Lock()
	}
	s.active++
	s.inProgress++
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		s.mu.Lock()
		s.active--
		s.inProgress--
		s.mu.Unlock()
		return err
	}
	return nil
}

// release frees the concurrency token held by a finished download.
func (s *slot) release() {
	s.mu.Lock()
	s.active--
	s.inProgress--
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// activeCount returns how many requests are currently in flight.
func (s *slot) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// idle reports whether the slot has nothing in flight — the condition
// the slot garbage collector uses to decide a slot can be reclaimed.
func (s *slot) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress == 0
}

// idleSince reports how long this slot has had nothing in flight.
func (s *slot) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress > 0 {
		return 0
	}
	return time.Since(s.lastUsed)
}
