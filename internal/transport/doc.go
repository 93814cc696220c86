// Package transport moves converted page tiles into the terminal.
//
// A single management goroutine owns every shared memory region and all
// per-image protocol state. Callers hand it converted images through
// Transmit and feed it the terminal's replies through HandleResponse; the
// goroutine writes Kitty commands, tracks each image through
// Prepared -> Transmitted -> Acknowledged, and reports a page as
// transmitted once every tile of a frame is acknowledged.
//
// The transfer variant is picked once at startup and only ever degrades:
// shared memory falls back to direct transfer after persistent ack
// failures, and direct transfer falls back to disabled. Both steps are
// logged and reported through Options.OnDegraded; neither is fatal.
//
// A region whose image is still Transmitted is never rewritten. When all
// regions are busy, tiles wait in FIFO order until an ack or an ack timeout
// frees one.
package transport
