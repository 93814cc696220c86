// Package pagestore persists rendered pages in SQLite so a reopened document
// does not have to be decoded again.
//
// The store is a second tier behind the in-memory page cache: workers
// consult it before decoding and write every fresh render back. Entries are
// keyed by document fingerprint, page, zoom, rotation and viewport, pixels
// are zlib compressed, and text/link layout is stored as JSON. The store is
// bounded by a byte budget and pruned oldest access first.
//
// A flock next to the database makes the store single-writer. Open returns
// ErrLocked when another folio process holds it; callers run without the
// store in that case.
package pagestore
