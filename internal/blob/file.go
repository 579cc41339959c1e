package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileStorage stores artifacts under a local directory. It backs local
// development and tests.
type FileStorage struct {
	root string
	// baseURL prefixes public URLs; "" yields file:// URLs.
	baseURL string
}

// NewFileStorage creates the root directory if needed.
func NewFileStorage(root, baseURL string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &FileStorage{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FileStorage) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return full, nil
}

// Save implements Storage. The file appears atomically.
func (s *FileStorage) Save(ctx context.Context, r io.Reader, path, contentType string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	log.Debug().Str("path", full).Str("contentType", contentType).Msg("Artifact saved to disk")
	return nil
}

// MakePublic implements Storage.
func (s *FileStorage) MakePublic(ctx context.Context, path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.Chmod(full, 0o644); err != nil {
		return "", fmt.Errorf("publish %s: %w", path, err)
	}
	if s.baseURL != "" {
		rel, _ := filepath.Rel(s.root, full)
		return s.baseURL + "/" + filepath.ToSlash(rel), nil
	}
	return "file://" + filepath.ToSlash(full), nil
}
