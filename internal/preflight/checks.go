package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"

	"folio/internal/pagestore"
	"folio/internal/shm"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSharedMemory creates, writes, and removes a small shared memory
// object.
func CheckSharedMemory() Result {
	const name = "Shared memory"

	if err := shm.Available(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unavailable (%v); pages will be sent inline", err)}
	}
	region, err := shm.Create("folio-doctor-"+uuid.NewString()[:8], 4096)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("create failed (%v); pages will be sent inline", err)}
	}
	defer func() { _ = region.Close() }()
	if _, err := region.Write(make([]byte, 4096)); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("write failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s writable", shm.Dir)}
}

// CheckTerminal verifies that fd is a terminal.
func CheckTerminal(fd uintptr) Result {
	const name = "Terminal"

	if isatty.IsTerminal(fd) {
		return Result{Name: name, Passed: true, Detail: "stdout is a tty"}
	}
	return Result{Name: name, Detail: "stdout is not a tty; images cannot be shown"}
}

// CheckPageStore verifies the page store directory and that no other folio
// process holds the store.
func CheckPageStore(_ context.Context, path string) Result {
	const name = "Page store"

	err := pagestore.CheckLock(path)
	switch {
	case err == nil:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (lock available)", path)}
	case errors.Is(err, pagestore.ErrLocked):
		return Result{Name: name, Detail: fmt.Sprintf("%s (held by another folio process; running without store)", path)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
}
