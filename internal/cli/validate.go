package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/pipeline"
)

// ResolveMediaRef checks a media reference given on the command line.
// URLs and data: URIs pass through; local paths must name an existing file
// and are returned absolute.
func ResolveMediaRef(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	for _, prefix := range []string{"http://", "https://", "s3://", "data:"} {
		if strings.HasPrefix(ref, prefix) {
			return ref, nil
		}
	}

	info, err := os.Stat(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("media file not found: %s", ref)
		}
		return "", fmt.Errorf("access %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", ref)
	}

	absPath, err := filepath.Abs(ref)
	if err == nil {
		ref = absPath
	}
	return ref, nil
}

// HandleFailure logs a pipeline error with guidance for its category and
// exits.
func HandleFailure(err error) {
	var f *pipeline.Failure
	if !errors.As(err, &f) {
		log.Fatal().Err(err).Msg("Unexpected error")
	}

	event := log.Fatal().Str("runId", f.RunID).Str("kind", string(f.Kind)).Str("category", string(f.Category))
	switch f.Category {
	case apperr.CategoryTimeout:
		event.Str("hint", "holoscene run "+f.RunID).Msg(f.Message)
	case apperr.CategoryGeneric:
		event.Err(f.Err).Msg(f.Message)
	default:
		event.Msg(f.Message)
	}
	os.Exit(1)
}
