package composite

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/metrics"
)

// maxStderr bounds the ffmpeg diagnostics carried in errors.
const maxStderr = 2000

// Options configures an Engine.
type Options struct {
	// FFmpegPath is the ffmpeg binary; "" means "ffmpeg" on PATH.
	FFmpegPath string
	// TempDir holds per-request temp files; "" means os.TempDir().
	TempDir string
	// Prober, when set, measures every output and fills the asset's
	// duration, frame rate and resolution.
	Prober *media.Prober
}

// Engine composes layers with ffmpeg.
type Engine struct {
	runner  Runner
	fetcher *media.Fetcher
	opts    Options
}

// NewEngine creates an engine. A nil runner uses ExecRunner.
func NewEngine(runner Runner, fetcher *media.Fetcher, opts Options) *Engine {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &Engine{runner: runner, fetcher: fetcher, opts: opts}
}

// Compose renders spec from inputs, one asset per layer in order. Inputs
// that are not already local are materialized to temp files first. The
// output is returned in memory; every temp file is removed before Compose
// returns, on success and on failure.
func (e *Engine) Compose(ctx context.Context, spec CompositionSpec, inputs []*media.Asset) (_ *media.Asset, err error) {
	const op = "composite.compose"
	if err := spec.Validate(); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, op, "invalid composition", err)
	}
	if len(inputs) != len(spec.Layers) {
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "%d layers but %d inputs", len(spec.Layers), len(inputs))
	}

	start := time.Now()
	rec := metrics.ForStage("composite").Dimension("Layers", fmt.Sprint(len(inputs)))
	defer func() {
		rec.Duration("ComposeLatency", time.Since(start))
		if err != nil {
			rec.Count("ComposeError").Property("errorKind", string(apperr.KindOf(err)))
		} else {
			rec.Count("ComposeOK")
		}
		rec.Flush()
	}()

	scope := media.NewTempScope(e.opts.TempDir)
	defer func() {
		if cerr := scope.Cleanup(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to remove compositing temp files")
		}
	}()

	materialized, err := e.materialize(ctx, inputs, scope)
	if err != nil {
		return nil, err
	}

	outputPath, err := scope.Path("holo-out-*" + media.ExtForMime("video/"+spec.format()))
	if err != nil {
		return nil, apperr.New(apperr.KindCompositingFailed, op, "reserve output path", err)
	}

	args := buildArgs(spec, materialized, outputPath)
	log.Debug().Strs("args", args).Msg("Running ffmpeg composition")

	ffStart := time.Now()
	stderr, err := e.runner.Run(ctx, e.opts.FFmpegPath, args)
	ffElapsed := time.Since(ffStart)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext(op, ctx.Err())
		}
		log.Warn().Err(err).Str("stderr", tail(stderr)).Dur("duration", ffElapsed).Msg("ffmpeg composition failed")
		return nil, &apperr.Error{
			Kind:    apperr.KindCompositingFailed,
			Op:      op,
			Message: "ffmpeg exited with error",
			Detail:  tail(stderr),
			Err:     err,
		}
	}

	out := &media.Asset{
		Location:  media.Inline,
		MimeType:  "video/" + spec.format(),
		Width:     spec.Width,
		Height:    spec.Height,
		FrameRate: float64(spec.FPS),
		Duration:  spec.Duration,
	}
	if e.opts.Prober != nil {
		info, perr := e.opts.Prober.Probe(ctx, outputPath)
		if perr != nil {
			return nil, apperr.New(apperr.KindCompositingFailed, op, "probe output", perr)
		}
		out.Width, out.Height = info.Width, info.Height
		out.FrameRate, out.Duration = info.FrameRate, info.Duration
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, apperr.New(apperr.KindCompositingFailed, op, "read output", err)
	}
	if len(data) == 0 {
		return nil, apperr.Newf(apperr.KindCompositingFailed, op, "ffmpeg produced an empty output")
	}
	out.Data = data
	out.SizeBytes = int64(len(data))
	rec.Metric("OutputBytes", float64(len(data)), metrics.UnitBytes)

	log.Info().
		Int("layers", len(inputs)).
		Dur("outputDuration", out.Duration).
		Int64("outputBytes", out.SizeBytes).
		Dur("ffmpegTime", ffElapsed).
		Msg("Composition complete")
	return out, nil
}

// materialize brings every input onto local disk concurrently.
func (e *Engine) materialize(ctx context.Context, inputs []*media.Asset, scope *media.TempScope) ([]input, error) {
	out := make([]input, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range inputs {
		g.Go(func() error {
			path, err := e.fetcher.Materialize(gctx, a, scope)
			if err != nil {
				return fmt.Errorf("layer %d: %w", i, err)
			}
			still := a.IsImage()
			if a.MimeType == "" {
				still = strings.HasPrefix(media.MimeFromPath(path), "image/")
			}
			out[i] = input{path: path, still: still}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// tail keeps the end of stderr, where ffmpeg reports the failure.
func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
