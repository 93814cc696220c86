package renderservice

import (
	"folio/internal/pagecache"
	"folio/internal/workerpool"
)

// Stats summarizes service activity since New.
type Stats struct {
	Requests         uint64
	CacheHits        uint64
	Deduplicated     uint64
	Enqueued         uint64
	PrefetchEnqueued uint64
	PrefetchDropped  uint64
	StaleDiscarded   uint64
	Rendered         uint64
	Faults           uint64
	EventsDropped    uint64
	Queued           int
	Documents        int
	Cache            pagecache.Stats
	Pool             workerpool.Status
}

// Stats returns a snapshot of the counters, the cache and the pool.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	documents := len(s.docs)
	s.mu.Unlock()

	return Stats{
		Requests:         s.counters.requests.Load(),
		CacheHits:        s.counters.cacheHits.Load(),
		Deduplicated:     s.counters.dedups.Load(),
		Enqueued:         s.counters.enqueued.Load(),
		PrefetchEnqueued: s.counters.prefetchEnqueued.Load(),
		PrefetchDropped:  s.counters.prefetchDropped.Load(),
		StaleDiscarded:   s.counters.staleDiscarded.Load(),
		Rendered:         s.counters.rendered.Load(),
		Faults:           s.counters.faults.Load(),
		EventsDropped:    s.counters.eventsDropped.Load(),
		Queued:           s.queue.Len(),
		Documents:        documents,
		Cache:            s.cache.Stats(),
		Pool:             s.pool.Status(),
	}
}
