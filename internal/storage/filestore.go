// Package storage provides atomic file-backed key/value persistence for
// the protection core. Each key maps to a single file under the base
// directory; writes go through a temp file and rename so a crash mid-write
// cannot leave a torn record.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates no value is stored under the requested key.
var ErrNotFound = errors.New("storage: key not found")

// FileStore persists values as individual files with restricted permissions.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("storage: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// BaseDir returns the directory backing this store.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// Get returns the value stored under key, or ErrNotFound.
func (s *FileStore) Get(key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set writes value under key atomically: the value is written to a temp
// file in the same directory, synced, then renamed over the target.
func (s *FileStore) Set(key string, value []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file for %s: %w", key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file for %s: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is not
// an error.
func (s *FileStore) Delete(key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// pathFor validates the key and maps it to a file path. Keys must be plain
// names; path separators and traversal are rejected.
func (s *FileStore) pathFor(key string) (string, error) {
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(s.baseDir, key), nil
}
