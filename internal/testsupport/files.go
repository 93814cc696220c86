package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteDocument writes a stand-in document under a fresh temp dir and
// returns its path. The content is derived from name, so distinct names
// fingerprint to distinct document ids while equal names collide.
func WriteDocument(t testing.TB, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	content := append([]byte("%PDF-1.4\n% "), bytes.Repeat([]byte(name), 64)...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
