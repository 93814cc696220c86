// Package shm manages POSIX shared memory objects that the terminal reads
// image data from.
//
// A Region is a named object under /dev/shm mapped into this process. The
// Kitty protocol lets the terminal unlink the object once it has read it,
// so Relink recreates the name before the next write. Regions are not safe
// for concurrent use; the transport goroutine owns them.
package shm
