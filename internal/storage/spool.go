package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turna/console/internal/models"
)

// Spool parks files received by the console on local disk until the
// uploader has sent them to the backend.
type Spool struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*models.LocalFile
}

// NewSpool creates a spool rooted at dir.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}

	return &Spool{
		dir:   dir,
		files: make(map[string]*models.LocalFile),
	}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Save copies r into the spool. lastModified is the client-reported
// modification time; the zero time means now.
func (s *Spool) Save(name string, r io.Reader, lastModified time.Time) (*models.LocalFile, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}

	id := uuid.New().String()
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	if lastModified.IsZero() {
		lastModified = time.Now()
	}

	file := &models.LocalFile{
		Name:         filepath.Base(name),
		Size:         size,
		LastModified: lastModified,
		Path:         path,
		SpoolID:      id,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = file

	return file, nil
}

// Get retrieves a spooled file by id.
func (s *Spool) Get(id string) (*models.LocalFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("spooled file not found: %s", id)
	}

	return file, nil
}

// List returns spooled files, newest first.
func (s *Spool) List() []*models.LocalFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.LocalFile, 0, len(s.files))
	for _, f := range s.files {
		list = append(list, f)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastModified.After(list[j].LastModified)
	})

	return list
}

// Open opens a spooled file for reading.
func (s *Spool) Open(id string) (io.ReadCloser, error) {
	file, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return os.Open(file.Path)
}

// Delete removes a file from the spool. Unknown ids are not an error.
func (s *Spool) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil
	}

	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// Prune removes spooled files older than maxAge that keep does not claim.
// Files left in the directory by an earlier run are considered too.
// It returns the number of files removed.
func (s *Spool) Prune(maxAge time.Duration, keep func(id string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := entry.Name()
		if keep != nil && keep(id) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, id)); err != nil && !os.IsNotExist(err) {
			continue
		}
		delete(s.files, id)
		removed++
	}
	return removed
}
