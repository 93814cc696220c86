// Package renderservice is the cache-first front end of the render pipeline.
//
// The Service owns the page cache, the worker queue and the worker pool. A
// RequestPage call is answered synchronously from the cache when possible;
// misses are enqueued at visible priority and deduplicated against queued
// and in-flight work. Once a visible page is satisfied its neighbours are
// prefetched at low priority. A single goroutine consumes worker results,
// matches them to the outstanding request for their PageKey, discards stale
// ones, and publishes Ready and Failed events on a bounded channel that the
// UI drains once per frame tick.
//
// The service is the only writer of per-page render state; State gives the
// UI a read-only view of it.
package renderservice
