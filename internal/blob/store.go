// Package blob stores media files (uploads, thumbnails) on the local
// filesystem under opaque storage keys, and serves them back through
// time-limited signed URLs.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is a filesystem-backed blob store rooted at one directory.
// Keys are slash-separated relative paths ("media/abc.mp4").
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Path resolves a key to its absolute filesystem path. Keys that
// escape the root resolve to an empty string.
func (s *Store) Path(key string) string {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return ""
	}
	return filepath.Join(s.root, clean)
}

// Save streams r into the blob at key, creating parent directories.
func (s *Store) Save(key string, r io.Reader) (int64, error) {
	path := s.Path(key)
	if path == "" {
		return 0, fmt.Errorf("invalid storage key %q", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	// Write through a temp file so a failed upload never leaves a
	// partial blob under the final key.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), path)
}

// Put copies an existing local file into the store under key.
func (s *Store) Put(key, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = s.Save(key, src)
	return err
}

// Remove deletes the blob at key. Missing blobs are not an error.
func (s *Store) Remove(key string) error {
	path := s.Path(key)
	if path == "" {
		return fmt.Errorf("invalid storage key %q", key)
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether a blob is present under key.
func (s *Store) Exists(key string) bool {
	path := s.Path(key)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
