package render

// State is the per-page lifecycle owned by the render service.
type State int

const (
	StateNotRequested State = iota
	StateQueued
	StateRendering
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotRequested:
		return "not_requested"
	case StateQueued:
		return "queued"
	case StateRendering:
		return "rendering"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	// A synchronous cache hit goes straight to Ready.
	StateNotRequested: {StateQueued, StateReady},
	// Stale cancellation returns queued and in-flight pages to NotRequested.
	StateQueued:    {StateRendering, StateNotRequested, StateReady, StateFailed},
	StateRendering: {StateReady, StateFailed, StateNotRequested},
	// Viewport or zoom changes re-queue a ready page; eviction forgets it.
	StateReady: {StateQueued, StateNotRequested},
	// Failed is terminal for the request; a fresh request retries.
	StateFailed: {StateQueued, StateReady, StateNotRequested},
}

// CanTransition reports whether the service may move a page from one state
// to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
