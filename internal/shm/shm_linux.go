//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"folio/internal/faults"
)

// Dir is where POSIX shared memory objects live on Linux.
const Dir = "/dev/shm"

// Region is a mapped shared memory object.
type Region struct {
	name string
	path string
	fd   int
	data []byte
}

// Create makes (or replaces) the object name and maps size bytes of it.
// name must not contain a slash; Name returns it in shm_open form.
func Create(name string, size int) (*Region, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "/") {
		return nil, faults.Wrap(faults.ErrValidation, "shm", "create", fmt.Sprintf("invalid name %q", name), nil)
	}
	if size <= 0 {
		return nil, faults.Wrap(faults.ErrValidation, "shm", "create", fmt.Sprintf("invalid size %d", size), nil)
	}
	r := &Region{name: name, path: filepath.Join(Dir, name), fd: -1}
	if err := r.mapObject(size); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Region) mapObject(size int) error {
	fd, err := unix.Open(r.path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return faults.Wrap(faults.ErrResource, "shm", "open", r.path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(r.path)
		return faults.Wrap(faults.ErrResource, "shm", "truncate", fmt.Sprintf("%s to %d bytes", r.path, size), err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(r.path)
		return faults.Wrap(faults.ErrResource, "shm", "mmap", r.path, err)
	}
	r.fd = fd
	r.data = data
	return nil
}

func (r *Region) unmap() error {
	var errs []error
	if r.data != nil {
		errs = append(errs, unix.Munmap(r.data))
		r.data = nil
	}
	if r.fd >= 0 {
		errs = append(errs, unix.Close(r.fd))
		r.fd = -1
	}
	return errors.Join(errs...)
}

// Name returns the object name as passed to shm_open, with a leading slash.
func (r *Region) Name() string {
	return "/" + r.name
}

// Capacity returns the mapped size in bytes.
func (r *Region) Capacity() int {
	return len(r.data)
}

// Write copies p to the start of the region.
func (r *Region) Write(p []byte) (int, error) {
	if r.data == nil {
		return 0, faults.Wrap(faults.ErrResource, "shm", "write", r.path+" is closed", nil)
	}
	if len(p) > len(r.data) {
		return 0, faults.Wrap(faults.ErrResource, "shm", "write",
			fmt.Sprintf("%d bytes exceeds capacity %d", len(p), len(r.data)), nil)
	}
	return copy(r.data, p), nil
}

// Linked reports whether the object name still exists.
func (r *Region) Linked() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

// Relink recreates the object if the terminal unlinked it. The old mapping
// is released; capacity is unchanged.
func (r *Region) Relink() error {
	if r.data != nil && r.Linked() {
		return nil
	}
	size := len(r.data)
	if size == 0 {
		return faults.Wrap(faults.ErrResource, "shm", "relink", r.path+" is closed", nil)
	}
	if err := r.unmap(); err != nil {
		return faults.Wrap(faults.ErrResource, "shm", "relink", r.path, err)
	}
	return r.mapObject(size)
}

// Close unmaps the region and unlinks its name.
func (r *Region) Close() error {
	err := r.unmap()
	if unlinkErr := unix.Unlink(r.path); unlinkErr != nil && !errors.Is(unlinkErr, unix.ENOENT) {
		err = errors.Join(err, unlinkErr)
	}
	return err
}

// Available reports whether shared memory objects can be created here.
func Available() error {
	if err := unix.Access(Dir, unix.W_OK|unix.X_OK); err != nil {
		return faults.Wrap(faults.ErrUnsupported, "shm", "available", Dir+" not writable", err)
	}
	return nil
}
