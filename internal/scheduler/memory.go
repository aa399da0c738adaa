package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"

	"github.com/IshaanNene/webstalk/internal/checkpoint"
	"github.com/IshaanNene/webstalk/internal/types"
)

// MemoryScheduler is an in-process priority-queue Scheduler. It is the
// only Scheduler variant this core implements; see the Scheduler
// interface's doc comment for why persistent/distributed variants are an
// extension point rather than a built-in.
type MemoryScheduler struct {
	mu      sync.Mutex
	pq      priorityQueue
	closed  bool
	wake    chan struct{}
	logger  *slog.Logger
	ckptDir string
	seq     uint64
}

// NewMemoryScheduler creates a MemoryScheduler. checkpointPath, when
// non-empty, is where Open restores pending requests from and Close
// persists them to (see internal/checkpoint).
func NewMemoryScheduler(logger *slog.Logger, checkpointPath string) *MemoryScheduler {
	s := &MemoryScheduler{
		pq:      make(priorityQueue, 0, 1024),
		wake:    make(chan struct{}, 1),
		logger:  logger.With("component", "scheduler"),
		ckptDir: checkpointPath,
	}
	heap.Init(&s.pq)
	return s
}

// Open restores any checkpointed pending requests.
func (s *MemoryScheduler) Open(ctx context.Context) error {
	if s.ckptDir == "" {
		return nil
	}
	pending, err := checkpoint.LoadPending(s.ckptDir)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if err := s.Enqueue(ctx, req); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		s.logger.Info("restored pending requests from checkpoint", "count", len(pending))
	}
	return nil
}

// Enqueue adds a request to the queue.
func (s *MemoryScheduler) Enqueue(ctx context.Context, req *types.Request) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	heap.Push(&s.pq, &pqItem{request: req, priority: req.Priority, seq: s.seq})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a request is available, ctx is cancelled, or the
// scheduler is closed.
func (s *MemoryScheduler) Next(ctx context.Context) (*types.Request, error) {
	for {
		s.mu.Lock()
		if s.pq.Len() > 0 {
			item := heap.Pop(&s.pq).(*pqItem)
			s.mu.Unlock()
			return item.request, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.wake:
		}
	}
}

// Len returns the number of requests currently queued.
func (s *MemoryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pq.Len()
}

// HasPendingRequests reports whether any request is queued.
func (s *MemoryScheduler) HasPendingRequests() bool {
	return s.Len() > 0
}

// Close marks the scheduler closed and, if a checkpoint path is
// configured, persists both the still-queued requests and any in-progress
// requests the downloader hadn't finished.
func (s *MemoryScheduler) Close(ctx context.Context, inProgress []*types.Request) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]*types.Request, s.pq.Len())
	for i, item := range s.pq {
		pending[i] = item.request
	}
	s.pq = s.pq[:0]
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	if s.ckptDir == "" {
		return nil
	}
	all := append(pending, inProgress...)
	return checkpoint.SavePending(s.ckptDir, all)
}

// --- priority queue ---

type pqItem struct {
	request  *types.Request
	priority int
	seq      uint64 // insertion order, breaks priority ties FIFO
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

// Less reports i as higher priority when its Priority value is larger
// (Request.Priority is "higher value served first"); among equal
// priorities, the earlier-enqueued item sorts first, giving FIFO ordering
// within a priority band.
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
