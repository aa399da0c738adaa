package engine

import (
	"time"
)

// heartbeat periodically logs stats, refreshes the metrics gauges, and
// checks idleness — aioscpy's heart_beat task, run on LogstatsInterval
// instead of a hardcoded 5 seconds.
func (e *Engine) heartbeat() {
	defer e.wg.Done()
	interval := e.cfg.LogstatsInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	idleSince := time.Time{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.logStats()
			if e.IsIdle() {
				if idleSince.IsZero() {
					idleSince = time.Now()
				}
				if e.cfg.IdleShutdownDelay <= 0 || time.Since(idleSince) >= e.cfg.IdleShutdownDelay {
					if e.signals.SendIdle(e.ctx, e.sp) {
						go e.Stop()
						return
					}
					// A listener vetoed closure (DontCloseSpider); stay
					// running and recheck idleness on the next tick.
					idleSince = time.Time{}
				}
			} else {
				idleSince = time.Time{}
			}
		}
	}
}

func (e *Engine) logStats() {
	e.logger.Debug("logstats", "stats", e.stats.Snapshot())
	if e.metrics == nil {
		return
	}
	e.metrics.QueueDepth.Store(int64(e.sched.Len()))
}
