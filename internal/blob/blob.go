// Package blob stores finished artifacts durably and publishes them.
package blob

import (
	"context"
	"io"
	"strings"
)

// Storage is durable blob storage.
type Storage interface {
	// Save writes r to path.
	Save(ctx context.Context, r io.Reader, path, contentType string) error
	// MakePublic exposes path and returns its durable public URL.
	MakePublic(ctx context.Context, path string) (string, error)
}

func joinKey(prefix, path string) string {
	path = strings.TrimLeft(path, "/")
	if prefix == "" {
		return path
	}
	return strings.TrimRight(prefix, "/") + "/" + path
}
