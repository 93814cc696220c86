//go:build linux

package shm_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"folio/internal/faults"
	"folio/internal/shm"
)

func create(t *testing.T, size int) *shm.Region {
	t.Helper()
	if err := shm.Available(); err != nil {
		t.Skipf("shared memory unavailable: %v", err)
	}
	r, err := shm.Create("folio-test-"+uuid.NewString(), size)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func objectPath(r *shm.Region) string {
	return filepath.Join(shm.Dir, r.Name()[1:])
}

func TestWriteIsVisibleThroughObject(t *testing.T) {
	r := create(t, 16)
	if r.Capacity() != 16 || r.Name()[0] != '/' {
		t.Fatalf("unexpected region %s cap %d", r.Name(), r.Capacity())
	}
	if _, err := r.Write([]byte("pixels")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	content, err := os.ReadFile(objectPath(r))
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if !bytes.HasPrefix(content, []byte("pixels")) || len(content) != 16 {
		t.Fatalf("unexpected object content %q", content)
	}
}

func TestWriteRejectsOversizedFrame(t *testing.T) {
	r := create(t, 4)
	if _, err := r.Write(make([]byte, 5)); !errors.Is(err, faults.ErrResource) {
		t.Fatalf("expected resource error, got %v", err)
	}
}

func TestRelinkRecreatesUnlinkedObject(t *testing.T) {
	r := create(t, 8)
	if err := os.Remove(objectPath(r)); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if r.Linked() {
		t.Fatal("expected object to be gone")
	}
	if err := r.Relink(); err != nil {
		t.Fatalf("Relink returned error: %v", err)
	}
	if !r.Linked() || r.Capacity() != 8 {
		t.Fatalf("expected relinked 8 byte object, cap %d", r.Capacity())
	}
	if _, err := r.Write([]byte("ok")); err != nil {
		t.Fatalf("Write after relink: %v", err)
	}
}

func TestCloseUnlinks(t *testing.T) {
	r := create(t, 8)
	path := objectPath(r)
	if err := r.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected object removed, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	if _, err := shm.Create("a/b", 8); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := shm.Create("ok", 0); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
