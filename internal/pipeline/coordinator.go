// Package pipeline coordinates generation, compositing, rendering and
// persistence for one request at a time.
//
// Each entry point runs as a small state machine (see State) under a
// deadline equal to the sum of its stage budgets. Stages hand assets to
// each other in memory; only the final artifact is written durably.
// Every failure is returned as a *Failure carrying the error kind and a
// user-facing message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/composite"
	"github.com/fpang/holoscene/internal/config"
	"github.com/fpang/holoscene/internal/genjob"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/metrics"
	"github.com/fpang/holoscene/internal/persist"
	"github.com/fpang/holoscene/internal/render"
	"github.com/fpang/holoscene/internal/store"
)

// Compositor composes layered media. *composite.Engine implements it.
type Compositor interface {
	Compose(ctx context.Context, spec composite.CompositionSpec, inputs []*media.Asset) (*media.Asset, error)
}

// Renderer renders text overlays. *render.Bridge implements it.
type Renderer interface {
	Render(ctx context.Context, req *render.Request) (*media.Asset, error)
}

// Deps are the coordinator's collaborators.
type Deps struct {
	Images  *genjob.Client
	Videos  *genjob.Client
	Fetcher *media.Fetcher
	// Compositor may be nil, which disables CompositeOverlay and video
	// backgrounds.
	Compositor Compositor
	// Renderer may be nil, which disables RenderTextOverlay.
	Renderer Renderer
	Gateway  *persist.Gateway
	Records  store.ArtifactStore

	Budgets config.Budgets
	Render  config.Render
	Output  config.Compositor
}

// Coordinator runs pipeline requests. It holds no per-request state and is
// safe for concurrent use.
type Coordinator struct {
	deps       Deps
	retryDelay time.Duration
	now        func() time.Time
}

// New validates deps and returns a Coordinator.
func New(deps Deps) (*Coordinator, error) {
	switch {
	case deps.Images == nil || deps.Videos == nil:
		return nil, fmt.Errorf("image and video providers are required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("media fetcher is required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("persistence gateway is required")
	}
	return &Coordinator{deps: deps, retryDelay: time.Second, now: time.Now}, nil
}

// Result is a successful run.
type Result struct {
	RunID    string
	State    State
	Artifact *store.Artifact
	// ImageURL and VideoURL are the intermediate provider outputs, with
	// inline payloads redacted.
	ImageURL string
	VideoURL string
	Elapsed  time.Duration
}

// DurableURL is the artifact's public URL.
func (r *Result) DurableURL() string {
	if r == nil || r.Artifact == nil {
		return ""
	}
	return r.Artifact.DurableURL
}

// Failure is the structured error every entry point returns.
type Failure struct {
	RunID    string
	Kind     apperr.Kind
	Category apperr.Category
	// Message is safe to show to end users.
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.RunID == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("run %s: %s: %v", f.RunID, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(runID string, err error) *Failure {
	category, message := apperr.Describe(err)
	return &Failure{
		RunID:    runID,
		Kind:     apperr.KindOf(err),
		Category: category,
		Message:  message,
		Err:      err,
	}
}

func invalid(op, format string, args ...any) error {
	return newFailure("", apperr.Newf(apperr.KindInvalidInput, op, format, args...))
}

// --- Budgets ---

func (c *Coordinator) submitPath() time.Duration {
	return time.Duration(c.deps.Budgets.SubmitRetries+1) * c.deps.Budgets.Submit()
}

func (c *Coordinator) imagePath() time.Duration {
	return c.submitPath() + c.deps.Budgets.ImagePoll() + c.deps.Budgets.Persist()
}

func (c *Coordinator) composePath() time.Duration {
	return c.deps.Budgets.Compose() + c.deps.Budgets.Persist()
}

// --- Stage helpers ---

// submit starts a job, retrying transport failures and provider 5xx
// responses up to the configured number of extra attempts. Each attempt has
// its own budget.
func (c *Coordinator) submit(ctx context.Context, r *run, client *genjob.Client, req genjob.Request) (*genjob.GenerationJob, error) {
	attempts := c.deps.Budgets.SubmitRetries + 1
	for attempt := 1; ; attempt++ {
		subCtx, cancel := context.WithTimeout(ctx, c.deps.Budgets.Submit())
		job, err := client.Submit(subCtx, req)
		cancel()
		if err == nil {
			return job, nil
		}
		if ctx.Err() != nil {
			return nil, apperr.FromContext("pipeline.submit", ctx.Err())
		}
		if !retrySubmit(err) || attempt >= attempts {
			return nil, err
		}

		delay := c.retryDelay * time.Duration(attempt)
		r.logger.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", delay).Str("kind", string(req.Kind)).Msg("Provider unavailable, retrying submit")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperr.FromContext("pipeline.submit", ctx.Err())
		case <-timer.C:
		}
	}
}

// retrySubmit reports whether a failed submit may be attempted again.
// Client errors, failures and content blocks never are.
func retrySubmit(err error) bool {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case apperr.KindProviderUnavailable:
		return true
	case apperr.KindProviderRejected:
		return e.StatusCode >= 500
	}
	return false
}

// generate submits req and polls it to a terminal state, advancing the run
// through requested and ready. It returns the provider's result URL.
func (c *Coordinator) generate(ctx context.Context, r *run, client *genjob.Client, req genjob.Request, requested, ready State, maxWait, interval time.Duration) (string, *genjob.GenerationJob, error) {
	job, err := c.submit(ctx, r, client, req)
	if err != nil {
		return "", nil, err
	}
	if err := r.advance(ctx, requested, job.ID); err != nil {
		return "", nil, err
	}

	res, err := client.PollUntilTerminal(ctx, job, maxWait, interval)
	if err != nil {
		return "", job, err
	}
	if err := r.advance(ctx, ready, res.URL); err != nil {
		return "", job, err
	}
	return res.URL, job, nil
}

// lookup short-circuits a run whose artifact already exists.
func (c *Coordinator) lookup(ctx context.Context, r *run, ownerID, sourceKey string) (*Result, error) {
	if sourceKey == "" {
		return nil, nil
	}
	existing, err := c.deps.Gateway.Existing(ctx, ownerID, sourceKey)
	if err != nil || existing == nil {
		return nil, err
	}
	r.logger.Info().Str("artifactId", existing.ID).Msg("Artifact already exists, skipping generation")
	return c.finish(ctx, r, existing)
}

// persist promotes asset under the persist budget.
func (c *Coordinator) persist(ctx context.Context, r *run, ownerID, sourceKey string, asset *media.Asset, metadata map[string]string) (*Result, error) {
	pctx, cancel := context.WithTimeout(ctx, c.deps.Budgets.Persist())
	defer cancel()
	art, err := c.deps.Gateway.Persist(pctx, ownerID, sourceKey, asset, metadata)
	if err != nil {
		return nil, err
	}
	return c.finish(ctx, r, art)
}

func (c *Coordinator) finish(ctx context.Context, r *run, art *store.Artifact) (*Result, error) {
	r.record.ArtifactID = art.ID
	r.record.ResultURL = art.DurableURL
	if err := r.advance(ctx, StatePersisted, art.DurableURL); err != nil {
		return nil, err
	}
	return &Result{
		RunID:    r.record.ID,
		State:    r.state,
		Artifact: art,
		ImageURL: r.record.ImageURL,
		VideoURL: r.record.VideoURL,
		Elapsed:  r.now().Sub(r.started),
	}, nil
}

// complete converts a run's outcome into the entry point's return values
// and emits the run metrics.
func (c *Coordinator) complete(ctx context.Context, r *run, res *Result, err error) (*Result, error) {
	rec := metrics.ForStage("pipeline").Dimension("Operation", r.record.Operation)
	defer rec.Flush()
	rec.Duration("RunLatency", r.now().Sub(r.started))

	if err != nil {
		r.fail(ctx, err)
		rec.Count("RunError").Property("errorKind", string(apperr.KindOf(err))).Property("runId", r.record.ID)
		return nil, newFailure(r.record.ID, err)
	}
	rec.Count("RunOK").Property("runId", r.record.ID)
	if res.Artifact != nil && res.Artifact.IsDuplicate {
		rec.Count("RunDuplicate")
	}
	log.Info().
		Str("runId", res.RunID).
		Str("operation", r.record.Operation).
		Str("url", res.DurableURL()).
		Bool("duplicate", res.Artifact.IsDuplicate).
		Bool("degraded", res.Artifact.Degraded).
		Dur("elapsed", res.Elapsed).
		Msg("Pipeline run complete")
	return res, nil
}

func (c *Coordinator) overlaySpec(duration time.Duration) composite.CompositionSpec {
	out := c.deps.Output
	spec := composite.OverlaySpec(out.Width, out.Height, out.SquareSize, out.FPS, duration)
	if out.Codec != "" {
		spec.Codec = out.Codec
	}
	if out.PixelFormat != "" {
		spec.PixelFormat = out.PixelFormat
	}
	return spec
}
