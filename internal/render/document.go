package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// OutlineEntry is one table-of-contents item. Page is zero-based, or -1 when
// the entry has no resolvable destination.
type OutlineEntry struct {
	Level int
	Title string
	Page  int
}

// DocumentInfo describes an open document.
type DocumentInfo struct {
	ID       DocumentID
	Path     string
	Pages    int
	Title    string
	Author   string
	Outline  []OutlineEntry
	Metadata map[string]string
}

// Fingerprint hashes a document file into a DocumentID. Identical bytes at
// different paths share cache entries.
func Fingerprint(path string) (DocumentID, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	return DocumentID(hex.EncodeToString(hash.Sum(nil))), nil
}
