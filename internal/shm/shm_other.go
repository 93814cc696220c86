//go:build !linux

package shm

import "folio/internal/faults"

// Dir is empty where POSIX shared memory is not supported.
const Dir = ""

// Region is unavailable on this platform.
type Region struct{}

// Create always fails outside Linux.
func Create(name string, size int) (*Region, error) {
	return nil, faults.Wrap(faults.ErrUnsupported, "shm", "create", "shared memory requires linux", nil)
}

func (r *Region) Name() string { return "" }
func (r *Region) Capacity() int { return 0 }
func (r *Region) Write(p []byte) (int, error) { return 0, Available() }
func (r *Region) Linked() bool { return false }
func (r *Region) Relink() error { return Available() }
func (r *Region) Close() error { return nil }

// Available reports that shared memory is unsupported.
func Available() error {
	return faults.Wrap(faults.ErrUnsupported, "shm", "available", "shared memory requires linux", nil)
}
