package renderservice

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"folio/internal/faults"
	"folio/internal/logging"
	"folio/internal/render"
	"folio/internal/workerpool"
)

// RequestPage asks for key rendered into vp. A cached render is returned
// immediately; otherwise a visible-priority job is queued unless an
// identical one is already queued or rendering.
func (s *Service) RequestPage(key render.PageKey, vp render.Viewport) (Subscription, error) {
	sub := Subscription{Key: key, Viewport: vp}
	if !vp.Valid() {
		return sub, faults.Wrap(faults.ErrValidation, "renderservice", "request page",
			fmt.Sprintf("invalid viewport %dx%d cells of %dx%d px", vp.Cols, vp.Rows, vp.CellWidth, vp.CellHeight), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return sub, ErrStopped
	}
	doc, err := s.documentLocked(key)
	if err != nil {
		return sub, err
	}
	s.applyEvictionsLocked()
	s.counters.requests.Add(1)

	if resp, ok := s.cache.Get(key); ok && resp.Viewport == vp {
		s.counters.cacheHits.Add(1)
		s.pages[key] = &tracked{state: render.StateReady, viewport: vp, priority: render.PriorityVisible}
		sub.State = render.StateReady
		sub.Response = resp
		s.schedulePrefetchLocked(key, vp, doc)
		return sub, nil
	}

	if p, ok := s.pages[key]; ok && p.state == render.StateQueued {
		if p.viewport == vp {
			if p.priority == render.PriorityPrefetch {
				s.promoteLocked(key, p, doc)
			}
			s.counters.dedups.Add(1)
			sub.ID = p.id
			sub.State = s.stateLocked(key)
			sub.Deduplicated = true
			return sub, nil
		}
		// The queued job renders for a viewport nobody wants any more. Its
		// cancellation fault, or its result if already in flight, no longer
		// matches the tracked request id and is discarded on arrival.
		s.queue.Cancel(func(k render.PageKey) bool { return k != key })
	}

	req := s.newRequest(key, vp, render.PriorityVisible, doc)
	if _, err := s.queue.Push(req); err != nil {
		return sub, fmt.Errorf("enqueue page: %w", err)
	}
	s.pages[key] = &tracked{state: render.StateQueued, id: req.ID, viewport: vp, priority: render.PriorityVisible}
	s.counters.enqueued.Add(1)
	sub.ID = req.ID
	sub.State = render.StateQueued
	return sub, nil
}

func (s *Service) newRequest(key render.PageKey, vp render.Viewport, priority render.Priority, doc *document) render.Request {
	return render.Request{
		ID:       uuid.NewString(),
		Key:      key,
		Priority: priority,
		Viewport: vp,
		Path:     doc.info.Path,
		Enqueued: time.Now(),
	}
}

// promoteLocked upgrades a prefetch job the UI now needs. A job still in the
// queue moves to the visible class; one already rendering only needs its
// neighbours scheduled when it lands.
func (s *Service) promoteLocked(key render.PageKey, p *tracked, doc *document) {
	p.priority = render.PriorityVisible
	if !s.queue.Contains(key) {
		return
	}
	req := render.Request{
		ID:       p.id,
		Key:      key,
		Priority: render.PriorityVisible,
		Viewport: p.viewport,
		Path:     doc.info.Path,
		Enqueued: time.Now(),
	}
	if _, err := s.queue.Push(req); err != nil {
		s.logger.Debug("promote prefetch failed", logging.String("key", key.String()), logging.Error(err))
	}
}

func (s *Service) documentLocked(key render.PageKey) (*document, error) {
	doc, ok := s.docs[key.Document]
	if !ok {
		return nil, faults.Wrap(faults.ErrNotFound, "renderservice", "request page",
			fmt.Sprintf("document %s is not open", key.Document.Short()), nil)
	}
	if key.Page < 0 || key.Page >= doc.info.Pages {
		return nil, faults.Wrap(faults.ErrValidation, "renderservice", "request page",
			fmt.Sprintf("page %d out of range [0, %d)", key.Page, doc.info.Pages), nil)
	}
	return doc, nil
}

// schedulePrefetchLocked queues the neighbours of key within the prefetch
// radius, nearest first. Pages already cached or pending for vp are skipped,
// as are failed pages; a neighbour held for another viewport is rendered again.
// It stops at the first rejection since the queue is full.
func (s *Service) schedulePrefetchLocked(key render.PageKey, vp render.Viewport, doc *document) int {
	queued := 0
	for offset := 1; offset <= s.radius; offset++ {
		for _, page := range []int{key.Page + offset, key.Page - offset} {
			if page < 0 || page >= doc.info.Pages {
				continue
			}
			neighbour := key.WithPage(page)
			if resp, ok := s.cache.Peek(neighbour); ok && resp.Viewport == vp {
				continue
			}
			if p, ok := s.pages[neighbour]; ok {
				if p.state == render.StateFailed || (p.state == render.StateQueued && p.viewport == vp) {
					continue
				}
				if p.state == render.StateQueued {
					s.queue.Cancel(func(k render.PageKey) bool { return k != neighbour })
				}
			}

			req := s.newRequest(neighbour, vp, render.PriorityPrefetch, doc)
			if _, err := s.queue.Push(req); err != nil {
				if errors.Is(err, workerpool.ErrQueueFull) {
					s.counters.prefetchDropped.Add(1)
				}
				return queued
			}
			s.pages[neighbour] = &tracked{state: render.StateQueued, id: req.ID, viewport: vp, priority: render.PriorityPrefetch}
			s.counters.prefetchEnqueued.Add(1)
			queued++
		}
	}
	return queued
}

// CancelStale drops pending work for every key not in visible. Queued jobs
// are pulled from the queue; renders already in flight finish but their
// results are discarded. It returns how many pages were cancelled.
func (s *Service) CancelStale(visible []render.PageKey) int {
	keep := make(map[render.PageKey]struct{}, len(visible))
	for _, key := range visible {
		keep[key] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Cancel(func(k render.PageKey) bool {
		_, ok := keep[k]
		return ok
	})

	cancelled := 0
	for key, p := range s.pages {
		if p.state != render.StateQueued {
			continue
		}
		if _, ok := keep[key]; ok {
			continue
		}
		delete(s.pages, key)
		cancelled++
	}
	if cancelled > 0 {
		s.logger.Debug("cancelled stale requests", logging.Int("count", cancelled))
	}
	return cancelled
}

// ExtractText returns the text of a cached page inside sel, in raster pixels.
func (s *Service) ExtractText(key render.PageKey, sel render.Rect) (string, error) {
	resp, ok := s.cache.Get(key)
	if !ok {
		return "", faults.Wrap(faults.ErrNotFound, "renderservice", "extract text",
			fmt.Sprintf("page %d is not rendered", key.Page+1), nil)
	}
	return resp.TextIn(sel), nil
}
