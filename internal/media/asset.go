// Package media models the assets that flow between pipeline stages and
// resolves references to them (inline data, remote URLs, S3 objects and
// local files).
package media

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// Location says where an asset's bytes live.
type Location string

const (
	// Inline assets carry their bytes in Data.
	Inline Location = "inline"
	// Remote assets live at an http(s) or s3 URL.
	Remote Location = "remote"
	// Local assets live at a filesystem path.
	Local Location = "local"
)

// Asset is a media file produced by one stage and consumed by the next.
type Asset struct {
	Location  Location
	URI       string // URL or local path; empty for Inline
	Data      []byte // Inline only
	MimeType  string
	SizeBytes int64

	// Origin is the provider URL the asset was generated at, when known.
	// Persistence falls back to it if the durable upload fails.
	Origin string

	Width     int
	Height    int
	FrameRate float64
	Duration  time.Duration
}

// IsVideo reports whether the asset's MIME type is a video type.
func (a *Asset) IsVideo() bool { return strings.HasPrefix(a.MimeType, "video/") }

// IsImage reports whether the asset's MIME type is an image type.
func (a *Asset) IsImage() bool { return strings.HasPrefix(a.MimeType, "image/") }

// String implements fmt.Stringer for log output. Inline data is never printed.
func (a *Asset) String() string {
	if a.Location == Inline {
		return fmt.Sprintf("inline(%s, %d bytes)", a.MimeType, len(a.Data))
	}
	return fmt.Sprintf("%s(%s)", a.Location, a.URI)
}

// ImageExtensions maps supported image extensions to MIME types.
var ImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// VideoExtensions maps supported video extensions to MIME types.
var VideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// MimeFromPath guesses a MIME type from a file name or URL path.
func MimeFromPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(filepath.Ext(p))
	if m, ok := ImageExtensions[ext]; ok {
		return m
	}
	if m, ok := VideoExtensions[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}

// ExtForMime returns the preferred file extension for a MIME type.
func ExtForMime(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	case "application/json":
		return ".json"
	}
	return ".bin"
}
