package scraper

import (
	"sync"

	"github.com/IshaanNene/webstalk/internal/types"
)

// minResponseSize floors the byte weight charged against a slot's active
// size for backpressure accounting — a tiny response still occupies a
// scrape worker, so it shouldn't look free. Mirrors aioscpy's Slot's
// MIN_RESPONSE_SIZE.
const minResponseSize = 1024

type responseRequest struct {
	resp *types.Response
	req  *types.Request
}

// slot tracks responses queued for scraping and the byte-weighted
// backpressure that throttles how much the Downloader can hand to the
// Scraper before it catches up. Grounded on aioscpy's Scraper.Slot.
type slot struct {
	maxActiveSize int64

	mu         sync.Mutex
	queue      []responseRequest
	active     map[*types.Request]struct{}
	activeSize int64
}

func newSlot(maxActiveSize int64) *slot {
	if maxActiveSize <= 0 {
		maxActiveSize = 5_000_000
	}
	return &slot{
		maxActiveSize: maxActiveSize,
		active:        make(map[*types.Request]struct{}),
	}
}

// addResponseRequest enqueues a response for scraping and charges its
// weight against the slot's active size.
func (s *slot) addResponseRequest(resp *types.Response, req *types.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, responseRequest{resp: resp, req: req})
	s.active[req] = struct{}{}
	s.activeSize += weightOf(resp)
}

// next pops the oldest queued response, or false if the queue is empty.
func (s *slot) next() (responseRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return responseRequest{}, false
	}
	rr := s.queue[0]
	s.queue = s.queue[1:]
	return rr, true
}

// finishResponse releases the byte weight and active-set membership for
// a response/request pair once scraping it has completed.
func (s *slot) finishResponse(req *types.Request, resp *types.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[req]; ok {
		delete(s.active, req)
	}
	s.activeSize -= weightOf(resp)
	if s.activeSize < 0 {
		s.activeSize = 0
	}
}

// isIdle reports whether the slot has nothing queued or active.
func (s *slot) isIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && len(s.active) == 0
}

// needsBackout reports whether the slot's queued+active byte weight has
// exceeded its configured ceiling — the signal the engine uses to stop
// dispatching new requests until the Scraper catches up.
func (s *slot) needsBackout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSize > s.maxActiveSize
}

// queueLen reports how many responses are currently queued.
func (s *slot) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func weightOf(resp *types.Response) int64 {
	if resp == nil {
		return 0
	}
	n := int64(len(resp.Body))
	if n < minResponseSize {
		return minResponseSize
	}
	return n
}
