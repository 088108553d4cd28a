// Package objectstore keeps generated artifacts (pattern files, tile
// archives) on local disk under random keys.
package objectstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("object not found")

// Store is a flat directory of blobs.
type Store struct {
	root string
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the backing directory.
func (s *Store) Root() string { return s.root }

// validateKey rejects keys that could escape the root.
func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

// NewKey returns a fresh key keeping ext (".json", ".zip").
func NewKey(ext string) string {
	return uuid.NewString() + ext
}

// Path maps key to its file path.
func (s *Store) Path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, key), nil
}

// Put stores r under a new key with extension ext.
func (s *Store) Put(r io.Reader, ext string) (string, error) {
	key := NewKey(ext)
	path, err := s.Path(key)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return key, nil
}

// PutBytes is Put for in-memory data.
func (s *Store) PutBytes(data []byte, ext string) (string, error) {
	return s.Put(bytes.NewReader(data), ext)
}

// Open returns the blob for key. The caller closes it.
func (s *Store) Open(key string) (*os.File, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Get reads the whole blob.
func (s *Store) Get(key string) ([]byte, error) {
	f, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Delete removes key. Unknown keys are not an error.
func (s *Store) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
