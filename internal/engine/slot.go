package engine

import (
	"sync"
	"sync/atomic"

	"github.com/IshaanNene/webstalk/internal/types"
)

// slot tracks the in-progress requests for a single open spider — the
// set of requests that have left the Scheduler but haven't yet produced
// a response or a final failure. Grounded on aioscpy's
// core/engine.py ExecutionEngine.Slot.
type slot struct {
	closing atomic.Bool

	mu         sync.Mutex
	inProgress map[*types.Request]struct{}

	startRequestsDone atomic.Bool
}

func newSlot() *slot {
	return &slot{inProgress: make(map[*types.Request]struct{})}
}

func (s *slot) addRequest(req *types.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress[req] = struct{}{}
}

func (s *slot) removeRequest(req *types.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, req)
}

func (s *slot) inProgressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inProgress)
}

// snapshot returns every request currently in progress, for checkpointing.
func (s *slot) snapshot() []*types.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]*types.Request, 0, len(s.inProgress))
	for r := range s.inProgress {
		reqs = append(reqs, r)
	}
	return reqs
}

func (s *slot) close() {
	s.closing.Store(true)
}

func (s *slot) isClosing() bool {
	return s.closing.Load()
}
