// Package scheduler queues requests and serves them back out in priority
// order. The Execution Engine is the only caller; it never inspects a
// Scheduler's internals beyond this interface.
package scheduler

import (
	"context"

	"github.com/IshaanNene/webstalk/internal/types"
)

// Scheduler is the contract for request queues the engine drives.
//
// Only the in-process MemoryScheduler is implemented here. A persistent or
// distributed-queue scheduler (redis-, rabbitmq-backed, as aioscpy ships)
// is an out-of-scope extension point: it would implement this same
// interface and nothing in the engine would need to change.
type Scheduler interface {
	// Enqueue adds a request to the queue. DontFilter requests bypass
	// scheduler-level dedup (the scheduler itself does not dedup by
	// default — that's a middleware concern — but implementations that
	// add their own dedup must still honor DontFilter).
	Enqueue(ctx context.Context, req *types.Request) error

	// Next blocks until a request is available, the context is
	// cancelled, or the scheduler is closed. Returns nil, nil on close.
	Next(ctx context.Context) (*types.Request, error)

	// Len returns the number of requests currently queued.
	Len() int

	// HasPendingRequests reports whether any request is queued.
	HasPendingRequests() bool

	// Open primes the scheduler, e.g. restoring persisted state.
	Open(ctx context.Context) error

	// Close drains in-flight bookkeeping. inProgress lists requests the
	// downloader had not yet finished when shutdown began; a persistent
	// scheduler re-enqueues them so a future Open can resume. The memory
	// scheduler writes them to its checkpoint together with the
	// still-queued requests when a checkpoint path is configured, and
	// drops them otherwise.
	Close(ctx context.Context, inProgress []*types.Request) error
}
