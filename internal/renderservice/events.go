package renderservice

import (
	"folio/internal/render"
)

// EventKind tags service events.
type EventKind int

const (
	// EventReady carries a rendered page.
	EventReady EventKind = iota + 1
	// EventFailed carries the fault for a page that could not be rendered.
	EventFailed
	// EventTransmitted reports that a page's frame is visible on the terminal.
	EventTransmitted
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventFailed:
		return "failed"
	case EventTransmitted:
		return "transmitted"
	default:
		return "unknown"
	}
}

// Event is delivered to the UI on the service's event channel.
type Event struct {
	Kind      EventKind
	Key       render.PageKey
	RequestID string
	Priority  render.Priority
	Response  *render.Response
	Fault     *render.Fault
}

// Subscription is the handle returned by RequestPage. When the page was
// cached Response is already set and State is Ready; otherwise the outcome
// arrives later as an Event for Key.
type Subscription struct {
	ID       string
	Key      render.PageKey
	Viewport render.Viewport
	State    render.State
	Response *render.Response
	// Deduplicated is set when the request joined an already queued or
	// in-flight render.
	Deduplicated bool
}

// Ready reports whether the subscription was satisfied from the cache.
func (s Subscription) Ready() bool {
	return s.State == render.StateReady && s.Response != nil
}

// Events returns the channel the UI drains. It is closed by Shutdown.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Poll drains up to limit pending events without blocking. A non-positive limit
// drains everything currently buffered.
func (s *Service) Poll(limit int) []Event {
	var out []Event
	for limit <= 0 || len(out) < limit {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

// NotifyTransmitted is called by the display pipeline once every tile of key
// has been acknowledged by the terminal.
func (s *Service) NotifyTransmitted(key render.PageKey) {
	s.emit(Event{Kind: EventTransmitted, Key: key}, true)
}

// emit publishes ev. Blocking sends give up when the service stops; other
// sends are dropped when the UI is behind, since State still reflects them.
func (s *Service) emit(ev Event, block bool) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.eventsClosed {
		return false
	}
	if block {
		select {
		case s.events <- ev:
			return true
		case <-s.done:
			return false
		}
	}
	select {
	case s.events <- ev:
		return true
	default:
		s.counters.eventsDropped.Add(1)
		return false
	}
}
