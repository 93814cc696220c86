// Package workerpool runs a fixed set of render workers fed by a two-class
// priority queue.
//
// Visible requests are always served before prefetch requests; within a class
// the queue is FIFO. Pushing a key that is already queued is a no-op, except
// that a visible push promotes a queued prefetch entry. Prefetch pushes beyond
// the queue limit are dropped rather than blocking the caller.
//
// Every worker owns its decode handles; handles are never shared between
// goroutines. A render that exceeds its deadline produces a timeout fault and
// its handle is abandoned and closed once the decode returns. A worker that
// panics is replaced by the supervisor with a fresh decode context, and the
// job is retried a bounded number of times before the page is reported as
// crashed.
package workerpool
