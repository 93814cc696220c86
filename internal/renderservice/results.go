package renderservice

import (
	"context"
	"errors"

	"folio/internal/faults"
	"folio/internal/logging"
	"folio/internal/render"
)

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.results:
			s.handleResult(ctx, res)
		}
	}
}

// handleResult matches res to the tracked request for its key. Anything
// that does not match is stale: never cached, never announced.
func (s *Service) handleResult(ctx context.Context, res render.Result) {
	key := res.Request.Key

	s.mu.Lock()
	s.applyEvictionsLocked()
	p, ok := s.pages[key]
	if !ok || p.id != res.Request.ID || p.state != render.StateQueued {
		s.mu.Unlock()
		s.counters.staleDiscarded.Add(1)
		s.logger.Debug("discarded stale result",
			logging.String(logging.FieldRequestID, res.Request.ID),
			logging.String("key", key.String()),
		)
		return
	}
	priority := p.priority

	if res.OK() {
		s.cache.Insert(key, res.Response)
		p.state = render.StateReady
		p.id = ""
		if priority == render.PriorityVisible {
			if doc, ok := s.docs[key.Document]; ok {
				s.schedulePrefetchLocked(key, p.viewport, doc)
			}
		}
		s.mu.Unlock()

		s.counters.rendered.Add(1)
		s.emit(Event{
			Kind:      EventReady,
			Key:       key,
			RequestID: res.Request.ID,
			Priority:  priority,
			Response:  res.Response,
		}, priority == render.PriorityVisible)
		return
	}

	fault := res.Fault
	if fault == nil {
		fault = render.NewFault(render.FaultDecode, key.Page, errors.New("worker returned neither response nor fault"))
	}
	if fault.Kind == render.FaultCancelled {
		delete(s.pages, key)
		s.mu.Unlock()
		return
	}
	p.state = render.StateFailed
	p.id = ""
	s.mu.Unlock()

	s.counters.faults.Add(1)
	logger := logging.WithContext(faults.WithPage(faults.WithRequestID(ctx, res.Request.ID), key.Page), s.logger)
	logging.WarnWithContext(logger, "page failed to render", "page_render_failed",
		logging.String("fault", fault.Kind.String()),
		logging.Worker(res.Worker),
		logging.Error(fault),
		logging.Impact("page shows a placeholder until requested again"),
	)
	s.emit(Event{
		Kind:      EventFailed,
		Key:       key,
		RequestID: res.Request.ID,
		Priority:  priority,
		Fault:     fault,
	}, true)
}
