package workerpool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"folio/internal/render"
)

var (
	// ErrQueueFull is returned when a prefetch push would exceed the limit.
	ErrQueueFull = errors.New("render queue full")
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("render queue closed")
)

// PushOutcome reports what Push did with a request.
type PushOutcome int

const (
	// Enqueued means a new job was added.
	Enqueued PushOutcome = iota
	// Duplicate means the key was already queued; nothing changed.
	Duplicate
	// Promoted means a queued prefetch job was moved to the visible class.
	Promoted
)

func (o PushOutcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	case Promoted:
		return "promoted"
	default:
		return "unknown"
	}
}

// Job is a queued request. Attempt counts worker crashes while rendering it.
type Job struct {
	Request   render.Request
	Attempt   int
	Cancelled bool
}

// Queue is a two-class FIFO of render jobs, deduplicated by page key.
type Queue struct {
	mu        sync.Mutex
	visible   *list.List
	prefetch  *list.List
	cancelled []*Job
	index     map[render.PageKey]*list.Element
	limit     int
	closed    bool

	signal chan struct{}
	done   chan struct{}

	dropped atomic.Uint64
}

// NewQueue creates a queue that drops prefetch pushes once limit jobs are
// pending. A non-positive limit disables prefetch admission entirely.
func NewQueue(limit int) *Queue {
	return &Queue{
		visible:  list.New(),
		prefetch: list.New(),
		index:    make(map[render.PageKey]*list.Element),
		limit:    limit,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push adds a request. Visible requests are never rejected.
func (q *Queue) Push(req render.Request) (PushOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Enqueued, ErrQueueClosed
	}

	if el, ok := q.index[req.Key]; ok {
		job := el.Value.(*Job)
		if req.Priority == render.PriorityVisible && job.Request.Priority == render.PriorityPrefetch {
			q.prefetch.Remove(el)
			job.Request.Priority = render.PriorityVisible
			q.index[req.Key] = q.visible.PushBack(job)
			return Promoted, nil
		}
		return Duplicate, nil
	}

	if req.Priority == render.PriorityPrefetch && q.pendingLocked() >= q.limit {
		q.dropped.Add(1)
		return Enqueued, ErrQueueFull
	}

	job := &Job{Request: req}
	if req.Priority == render.PriorityVisible {
		q.index[req.Key] = q.visible.PushBack(job)
	} else {
		q.index[req.Key] = q.prefetch.PushBack(job)
	}
	q.wakeLocked()
	return Enqueued, nil
}

// Requeue puts a job back at the head of its class, bypassing the limit. It
// is used to retry a job whose worker crashed.
func (q *Queue) Requeue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.index[job.Request.Key]; ok {
		return nil
	}
	copied := job
	if job.Request.Priority == render.PriorityVisible {
		q.index[job.Request.Key] = q.visible.PushFront(&copied)
	} else {
		q.index[job.Request.Key] = q.prefetch.PushFront(&copied)
	}
	q.wakeLocked()
	return nil
}

// Pop blocks until a job is available, the context ends, or the queue is
// closed. Cancelled jobs are handed out first so their faults are reported
// promptly.
func (q *Queue) Pop(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrQueueClosed
		}
		if job, ok := q.takeLocked(); ok {
			if q.cancelledOrPendingLocked() > 0 {
				q.wakeLocked()
			}
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.done:
			return Job{}, ErrQueueClosed
		case <-q.signal:
		}
	}
}

func (q *Queue) takeLocked() (Job, bool) {
	if n := len(q.cancelled); n > 0 {
		job := q.cancelled[0]
		q.cancelled[0] = nil
		q.cancelled = q.cancelled[1:]
		return *job, true
	}
	for _, l := range []*list.List{q.visible, q.prefetch} {
		if front := l.Front(); front != nil {
			job := l.Remove(front).(*Job)
			delete(q.index, job.Request.Key)
			return *job, true
		}
	}
	return Job{}, false
}

// Cancel removes every pending job whose key keep rejects and returns the
// removed requests. Removed jobs are still handed to a worker, flagged
// cancelled, so the consumer sees a cancellation fault for each.
func (q *Queue) Cancel(keep func(render.PageKey) bool) []render.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []render.Request
	for _, l := range []*list.List{q.visible, q.prefetch} {
		for el := l.Front(); el != nil; {
			next := el.Next()
			job := el.Value.(*Job)
			if !keep(job.Request.Key) {
				l.Remove(el)
				delete(q.index, job.Request.Key)
				job.Cancelled = true
				q.cancelled = append(q.cancelled, job)
				removed = append(removed, job.Request)
			}
			el = next
		}
	}
	if len(removed) > 0 {
		q.wakeLocked()
	}
	return removed
}

// Contains reports whether key has a pending, uncancelled job.
func (q *Queue) Contains(key render.PageKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[key]
	return ok
}

// Len returns the number of pending, uncancelled jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Pending returns a snapshot of pending requests in service order.
func (q *Queue) Pending() []render.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]render.Request, 0, q.pendingLocked())
	for _, l := range []*list.List{q.visible, q.prefetch} {
		for el := l.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(*Job).Request)
		}
	}
	return out
}

// SetLimit changes the prefetch admission limit.
func (q *Queue) SetLimit(limit int) {
	q.mu.Lock()
	q.limit = limit
	q.mu.Unlock()
}

// Dropped returns how many prefetch pushes were rejected.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close wakes all blocked Pop calls and rejects further pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) pendingLocked() int {
	return q.visible.Len() + q.prefetch.Len()
}

func (q *Queue) cancelledOrPendingLocked() int {
	return len(q.cancelled) + q.pendingLocked()
}

func (q *Queue) wakeLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
