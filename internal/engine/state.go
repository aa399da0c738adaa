package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the engine's current lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats tracks crawl statistics for the lifetime of a single open spider.
type Stats struct {
	RequestsSent    atomic.Int64
	RequestsFailed  atomic.Int64
	RequestsRetried atomic.Int64
	ResponsesOK     atomic.Int64
	ResponsesError  atomic.Int64
	ItemsScraped    atomic.Int64
	ItemsDropped    atomic.Int64
	URLsEnqueued    atomic.Int64
	URLsFiltered    atomic.Int64
	BytesDownloaded atomic.Int64
	ActiveWorkers   atomic.Int32
	StartTime       time.Time

	mu          sync.RWMutex
	domainStats map[string]*DomainStats
}

// DomainStats tracks per-domain statistics.
type DomainStats struct {
	Requests  int64
	Responses int64
	Errors    int64
	LastFetch time.Time
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{domainStats: make(map[string]*DomainStats)}
}

// RecordDomain updates per-domain bookkeeping for a fetch outcome.
func (s *Stats) RecordDomain(domain string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, exists := s.domainStats[domain]
	if !exists {
		d = &DomainStats{}
		s.domainStats[domain] = d
	}
	d.Requests++
	d.LastFetch = time.Now()
	if ok {
		d.Responses++
	} else {
		d.Errors++
	}
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"requests_sent":    s.RequestsSent.Load(),
		"requests_failed":  s.RequestsFailed.Load(),
		"requests_retried": s.RequestsRetried.Load(),
		"responses_ok":     s.ResponsesOK.Load(),
		"responses_error":  s.ResponsesError.Load(),
		"items_scraped":    s.ItemsScraped.Load(),
		"items_dropped":    s.ItemsDropped.Load(),
		"urls_enqueued":    s.URLsEnqueued.Load(),
		"urls_filtered":    s.URLsFiltered.Load(),
		"bytes_downloaded": s.BytesDownloaded.Load(),
		"active_workers":   s.ActiveWorkers.Load(),
		"domains":          len(s.domainStats),
		"elapsed":          time.Since(s.StartTime).String(),
	}
}
