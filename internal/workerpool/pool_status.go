package workerpool

import (
	"sync"
	"time"

	"folio/internal/render"
)

// WorkerState is what a worker slot is doing.
type WorkerState string

const (
	WorkerIdle      WorkerState = "idle"
	WorkerRendering WorkerState = "rendering"
)

// WorkerStatus is a snapshot of one worker slot.
type WorkerStatus struct {
	ID       int
	State    WorkerState
	Page     int
	Since    time.Time
	Rendered uint64
	Faults   uint64
	Restarts uint64
	Reported bool
}

// Status summarizes the pool.
type Status struct {
	Running bool
	Workers []WorkerStatus
	Queued  int
	Dropped uint64
}

// slot is the long-lived identity of a worker position; it survives worker
// restarts so counters accumulate.
type slot struct {
	id int

	mu       sync.Mutex
	state    WorkerState
	page     int
	since    time.Time
	rendered uint64
	faults   uint64
	restarts uint64
	reported bool
}

func (s *slot) setRendering(key render.PageKey) {
	s.mu.Lock()
	s.state = WorkerRendering
	s.page = key.Page
	s.since = time.Now()
	s.reported = false
	s.mu.Unlock()
}

func (s *slot) setIdle() {
	s.mu.Lock()
	s.state = WorkerIdle
	s.since = time.Now()
	s.mu.Unlock()
}

func (s *slot) recordRendered() {
	s.mu.Lock()
	s.rendered++
	s.mu.Unlock()
}

func (s *slot) recordFault() {
	s.mu.Lock()
	s.faults++
	s.mu.Unlock()
}

func (s *slot) recordRestart() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

func (s *slot) markReported() {
	s.mu.Lock()
	s.reported = true
	s.mu.Unlock()
}

func (s *slot) snapshot() WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	if state == "" {
		state = WorkerIdle
	}
	return WorkerStatus{
		ID:       s.id,
		State:    state,
		Page:     s.page,
		Since:    s.since,
		Rendered: s.rendered,
		Faults:   s.faults,
		Restarts: s.restarts,
		Reported: s.reported,
	}
}

// Status returns the latest pool information.
func (p *Pool) Status() Status {
	p.mu.RLock()
	running := p.running
	slots := append([]*slot(nil), p.slots...)
	p.mu.RUnlock()

	workers := make([]WorkerStatus, 0, len(slots))
	for _, s := range slots {
		workers = append(workers, s.snapshot())
	}
	return Status{
		Running: running,
		Workers: workers,
		Queued:  p.queue.Len(),
		Dropped: p.queue.Dropped(),
	}
}
