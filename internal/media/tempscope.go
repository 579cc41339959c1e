package media

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// TempScope tracks the temporary files created for one request so they can
// all be removed on every exit path. It is safe for concurrent use.
type TempScope struct {
	dir string

	mu    sync.Mutex
	paths []string
}

// NewTempScope returns a scope that creates files in dir ("" = os.TempDir()).
func NewTempScope(dir string) *TempScope {
	return &TempScope{dir: dir}
}

// Create makes a new empty temp file from pattern and tracks it.
// The returned file is open; callers close it.
func (s *TempScope) Create(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	s.Track(f.Name())
	return f, nil
}

// Path reserves a tracked temp path without leaving a file behind. Tools
// like ffmpeg that insist on creating their own output use this.
func (s *TempScope) Path(pattern string) (string, error) {
	f, err := s.Create(pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return "", fmt.Errorf("reserve temp path: %w", err)
	}
	return name, nil
}

// Track registers an externally created path for cleanup.
func (s *TempScope) Track(path string) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

// Paths returns a copy of the tracked paths.
func (s *TempScope) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Cleanup removes every tracked path. Missing files are not an error.
// The scope may be reused afterwards.
func (s *TempScope) Cleanup() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(paths) > 0 {
		log.Debug().Int("count", len(paths)).Int("failed", len(errs)).Msg("Temp files cleaned up")
	}
	return errors.Join(errs...)
}
