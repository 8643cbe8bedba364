// Package fs stores archive objects on the local filesystem. It is the
// development stand-in for the GCS store.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rezkam/taskstream/internal/application/archive"
)

// Store is a filesystem-backed archive object store.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

var _ archive.ObjectWriter = (*Store)(nil)

// NewStore creates a new filesystem store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) objectPath(name string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(name))
}

// WriteObject writes one archive object. Writes go through a temp file and
// rename so readers never observe a partial object.
func (s *Store) WriteObject(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.objectPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize object %s: %w", name, err)
	}
	return nil
}

// ReadObject returns the contents of a stored archive object.
func (s *Store) ReadObject(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.objectPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive object not found: %s", name)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return data, nil
}

// ListObjects returns the names of stored objects under the given prefix.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return names, nil
}
