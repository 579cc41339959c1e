// Package render bridges to a headless-browser video renderer for dynamic
// text overlays. The render template is compiled once per process and
// reused; local media is exposed to the renderer over a short-lived
// loopback HTTP endpoint instead of being inlined into props.
package render

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/composite"
)

// BundleHandle is a compiled render template on local disk.
type BundleHandle struct {
	Path    string
	BuiltAt time.Time
}

// Bundler compiles the render template into outDir.
type Bundler interface {
	Bundle(ctx context.Context, outDir string) error
}

// CommandBundler runs "<command> remotion bundle <entry> --out-dir <dir>".
type CommandBundler struct {
	Runner     composite.Runner
	Command    string
	EntryPoint string
}

// Bundle implements Bundler.
func (b CommandBundler) Bundle(ctx context.Context, outDir string) error {
	runner := b.Runner
	if runner == nil {
		runner = composite.ExecRunner{}
	}
	stderr, err := runner.Run(ctx, b.Command, []string{"remotion", "bundle", b.EntryPoint, "--out-dir", outDir})
	if err != nil {
		return fmt.Errorf("bundle %s: %w (%s)", b.EntryPoint, err, lastLine(stderr))
	}
	return nil
}

// BundleCache holds the process-wide template bundle. It is the only
// state shared between requests. Readers check that the cached bundle
// still exists on disk and rebuild otherwise; concurrent rebuilds race
// through CompareAndSwap and the loser discards its copy.
type BundleCache struct {
	bundler Bundler
	// dir is the parent for bundle directories; "" means os.TempDir().
	dir string

	current atomic.Pointer[BundleHandle]
	builds  atomic.Int64
}

// NewBundleCache creates an empty cache.
func NewBundleCache(bundler Bundler, dir string) *BundleCache {
	return &BundleCache{bundler: bundler, dir: dir}
}

// Builds returns how many bundles this cache has compiled.
func (c *BundleCache) Builds() int64 { return c.builds.Load() }

// Get returns the cached bundle, building it first if it is missing or
// its directory has been removed.
func (c *BundleCache) Get(ctx context.Context) (*BundleHandle, error) {
	old := c.current.Load()
	if old != nil {
		if _, err := os.Stat(old.Path); err == nil {
			return old, nil
		}
		log.Info().Str("path", old.Path).Msg("Render bundle missing on disk, rebuilding")
	}

	dir, err := os.MkdirTemp(c.dir, "holo-bundle-*")
	if err != nil {
		return nil, apperr.New(apperr.KindRenderFailed, "render.bundle", "create bundle dir", err)
	}
	start := time.Now()
	if err := c.bundler.Bundle(ctx, dir); err != nil {
		os.RemoveAll(dir)
		if ctx.Err() != nil {
			return nil, apperr.FromContext("render.bundle", ctx.Err())
		}
		return nil, apperr.New(apperr.KindRenderFailed, "render.bundle", "bundle template", err)
	}
	c.builds.Add(1)

	h := &BundleHandle{Path: dir, BuiltAt: time.Now()}
	if !c.current.CompareAndSwap(old, h) {
		os.RemoveAll(dir)
		if winner := c.current.Load(); winner != nil {
			return winner, nil
		}
	}
	log.Info().Str("path", dir).Dur("duration", time.Since(start)).Msg("Render bundle built")
	return h, nil
}

func lastLine(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return s[i+1:]
		}
	}
	return s
}
