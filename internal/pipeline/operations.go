package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/genjob"
	"github.com/fpang/holoscene/internal/jobs"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/render"
)

// Operation names, as recorded on runs.
const (
	OpImage     = "image"
	OpVideo     = "video"
	OpComposite = "composite"
	OpRender    = "render"
)

// DefaultClipDuration is the length of a generated clip and the default
// output duration for overlays.
const DefaultClipDuration = 8 * time.Second

// ImageRequest asks for one generated still.
type ImageRequest struct {
	OwnerID     string            `json:"ownerId"`
	Prompt      string            `json:"prompt"`
	AspectRatio string            `json:"aspectRatio,omitempty"`
	Model       string            `json:"model,omitempty"`
	SourceKey   string            `json:"sourceKey,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// VideoRequest asks for an image, then a clip animated from it,
// optionally blended over a background.
type VideoRequest struct {
	OwnerID string `json:"ownerId"`

	// Prompt drives the clip; ImagePrompt, if set, drives the still.
	Prompt          string `json:"prompt"`
	ImagePrompt     string `json:"imagePrompt,omitempty"`
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`

	// Background, when set, is an image reference the clip is
	// screen-blended over.
	Background string            `json:"background,omitempty"`
	SourceKey  string            `json:"sourceKey,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CompositeRequest blends a foreground clip over a background image.
type CompositeRequest struct {
	OwnerID    string `json:"ownerId"`
	Background string `json:"background"`
	Foreground string `json:"foreground"`

	// DurationSeconds is the output length; 0 means DefaultClipDuration.
	DurationSeconds float64           `json:"durationSeconds,omitempty"`
	SourceKey       string            `json:"sourceKey,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RenderRequest overlays styled text on a video.
type RenderRequest struct {
	OwnerID      string            `json:"ownerId"`
	BaseVideo    string            `json:"baseVideo"`
	Texts        []render.TextItem `json:"texts"`
	Style        render.Style      `json:"style"`
	OverlayImage string            `json:"overlayImage,omitempty"`

	// DurationSeconds is the output length; 0 means DefaultClipDuration.
	DurationSeconds float64           `json:"durationSeconds,omitempty"`
	SourceKey       string            `json:"sourceKey,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func durationOrDefault(seconds float64) time.Duration {
	if seconds <= 0 {
		return DefaultClipDuration
	}
	return time.Duration(seconds * float64(time.Second))
}

// GenerateImage generates one image and persists it.
func (c *Coordinator) GenerateImage(ctx context.Context, req ImageRequest) (*Result, error) {
	const op = "pipeline.image"
	if req.OwnerID == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, invalid(op, "owner id and prompt are required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.imagePath())
	defer cancel()
	r := newRun(ctx, c.deps.Records, jobs.NewRunID(), OpImage, req.OwnerID, c.now)

	res, err := c.lookup(ctx, r, req.OwnerID, req.SourceKey)
	if err != nil || res != nil {
		return c.complete(ctx, r, res, err)
	}

	res, err = c.runImage(ctx, r, req)
	return c.complete(ctx, r, res, err)
}

func (c *Coordinator) runImage(ctx context.Context, r *run, req ImageRequest) (*Result, error) {
	b := c.deps.Budgets
	url, job, err := c.generate(ctx, r, c.deps.Images, genjob.Request{
		Kind:        genjob.KindImage,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Model:       req.Model,
	}, StateImageRequested, StateImageReady, b.ImagePoll(), b.ImagePollInterval())
	if err != nil {
		return nil, err
	}
	r.record.ImageURL = redactURL(url)

	asset, err := c.deps.Fetcher.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	keepOrigin(asset, job)
	sourceKey := req.SourceKey
	if sourceKey == "" {
		sourceKey = jobSourceKey(job)
	}
	return c.persist(ctx, r, req.OwnerID, sourceKey, asset, withPrompt(req.Metadata, req.Prompt))
}

// GenerateVideo runs image → video → optional overlay → persist.
func (c *Coordinator) GenerateVideo(ctx context.Context, req VideoRequest) (*Result, error) {
	const op = "pipeline.video"
	if req.OwnerID == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, invalid(op, "owner id and prompt are required")
	}
	if req.Background != "" && c.deps.Compositor == nil {
		return nil, invalid(op, "compositing is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.deps.Budgets.VideoPath())
	defer cancel()
	r := newRun(ctx, c.deps.Records, jobs.NewRunID(), OpVideo, req.OwnerID, c.now)

	res, err := c.lookup(ctx, r, req.OwnerID, req.SourceKey)
	if err != nil || res != nil {
		return c.complete(ctx, r, res, err)
	}

	res, err = c.runVideo(ctx, r, req)
	return c.complete(ctx, r, res, err)
}

func (c *Coordinator) runVideo(ctx context.Context, r *run, req VideoRequest) (*Result, error) {
	b := c.deps.Budgets
	imagePrompt := req.ImagePrompt
	if imagePrompt == "" {
		imagePrompt = req.Prompt
	}

	imageURL, _, err := c.generate(ctx, r, c.deps.Images, genjob.Request{
		Kind:        genjob.KindImage,
		Prompt:      imagePrompt,
		AspectRatio: req.AspectRatio,
	}, StateImageRequested, StateImageReady, b.ImagePoll(), b.ImagePollInterval())
	if err != nil {
		return nil, err
	}
	r.record.ImageURL = redactURL(imageURL)

	videoURL, job, err := c.generate(ctx, r, c.deps.Videos, genjob.Request{
		Kind:            genjob.KindVideo,
		Prompt:          req.Prompt,
		ReferenceImage:  imageURL,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
	}, StateVideoRequested, StateVideoReady, b.VideoPoll(), b.VideoPollInterval())
	if err != nil {
		return nil, err
	}
	r.record.VideoURL = redactURL(videoURL)

	clip, err := c.deps.Fetcher.Resolve(ctx, videoURL)
	if err != nil {
		return nil, err
	}
	keepOrigin(clip, job)

	sourceKey := req.SourceKey
	if sourceKey == "" {
		sourceKey = jobSourceKey(job)
	}
	out := clip
	if req.Background != "" {
		duration := durationOrDefault(float64(req.DurationSeconds))
		if out, err = c.compose(ctx, r, media.Ref(req.Background), clip, duration); err != nil {
			return nil, err
		}
		if req.SourceKey == "" {
			sourceKey += "|overlay:" + req.Background
		}
	}
	return c.persist(ctx, r, req.OwnerID, sourceKey, out, withPrompt(req.Metadata, req.Prompt))
}

// CompositeOverlay blends an existing clip over an existing background and
// persists the result.
func (c *Coordinator) CompositeOverlay(ctx context.Context, req CompositeRequest) (*Result, error) {
	const op = "pipeline.composite"
	if req.OwnerID == "" || req.Background == "" || req.Foreground == "" {
		return nil, invalid(op, "owner id, background and foreground are required")
	}
	if c.deps.Compositor == nil {
		return nil, invalid(op, "compositing is not configured")
	}
	duration := durationOrDefault(req.DurationSeconds)
	if req.SourceKey == "" {
		req.SourceKey = "composite:" + req.Background + "|" + req.Foreground + "|" + duration.String()
	}

	ctx, cancel := context.WithTimeout(ctx, c.composePath())
	defer cancel()
	r := newRun(ctx, c.deps.Records, jobs.NewRunID(), OpComposite, req.OwnerID, c.now)

	res, err := c.lookup(ctx, r, req.OwnerID, req.SourceKey)
	if err != nil || res != nil {
		return c.complete(ctx, r, res, err)
	}

	out, err := c.compose(ctx, r, media.Ref(req.Background), media.Ref(req.Foreground), duration)
	if err != nil {
		return c.complete(ctx, r, nil, err)
	}
	res, err = c.persist(ctx, r, req.OwnerID, req.SourceKey, out, req.Metadata)
	return c.complete(ctx, r, res, err)
}

func (c *Coordinator) compose(ctx context.Context, r *run, background, foreground *media.Asset, duration time.Duration) (*media.Asset, error) {
	cctx, cancel := context.WithTimeout(ctx, c.deps.Budgets.Compose())
	defer cancel()
	out, err := c.deps.Compositor.Compose(cctx, c.overlaySpec(duration), []*media.Asset{background, foreground})
	if err != nil {
		return nil, err
	}
	if err := r.advance(ctx, StateComposited, out.String()); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderTextOverlay renders styled text over a video and persists the
// result.
func (c *Coordinator) RenderTextOverlay(ctx context.Context, req RenderRequest) (*Result, error) {
	const op = "pipeline.render"
	if req.OwnerID == "" || req.BaseVideo == "" {
		return nil, invalid(op, "owner id and base video are required")
	}
	if c.deps.Renderer == nil {
		return nil, invalid(op, "text rendering is not configured")
	}
	out := c.deps.Output
	rreq := &render.Request{
		BaseVideo: media.Ref(req.BaseVideo),
		Texts:     req.Texts,
		Style:     req.Style,
		Width:     out.Width,
		Height:    out.Height,
		FPS:       out.FPS,
		Duration:  durationOrDefault(req.DurationSeconds),
	}
	if req.OverlayImage != "" {
		rreq.OverlayImage = media.Ref(req.OverlayImage)
	}
	if err := rreq.Validate(); err != nil {
		return nil, newFailure("", apperr.New(apperr.KindInvalidInput, op, "invalid render request", err))
	}
	if req.SourceKey == "" {
		req.SourceKey = renderSourceKey(req)
	}

	ctx, cancel := context.WithTimeout(ctx, c.deps.Render.RenderPath(c.deps.Budgets))
	defer cancel()
	r := newRun(ctx, c.deps.Records, jobs.NewRunID(), OpRender, req.OwnerID, c.now)

	res, err := c.lookup(ctx, r, req.OwnerID, req.SourceKey)
	if err != nil || res != nil {
		return c.complete(ctx, r, res, err)
	}

	asset, err := c.deps.Renderer.Render(ctx, rreq)
	if err != nil {
		return c.complete(ctx, r, nil, err)
	}
	if err := r.advance(ctx, StateComposited, asset.String()); err != nil {
		return c.complete(ctx, r, nil, err)
	}
	res, err = c.persist(ctx, r, req.OwnerID, req.SourceKey, asset, req.Metadata)
	return c.complete(ctx, r, res, err)
}

// GetRun returns a run record, or nil if unknown.
func (c *Coordinator) GetRun(ctx context.Context, id string) (*RunStatus, error) {
	if c.deps.Records == nil {
		return nil, nil
	}
	rec, err := c.deps.Records.GetRun(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return &RunStatus{Run: rec, State: State(rec.State)}, nil
}

// jobSourceKey identifies a provider job's output.
// keepOrigin points an inline result back at the provider URL the job
// reported, so a degraded record still has somewhere to link.
func keepOrigin(asset *media.Asset, job *genjob.GenerationJob) {
	if asset.Origin == "" && job != nil {
		asset.Origin = job.OriginURL
	}
}

func jobSourceKey(job *genjob.GenerationJob) string {
	return string(job.Kind) + ":" + job.Provider + "/" + job.ID
}

func renderSourceKey(req RenderRequest) string {
	shape, _ := json.Marshal(struct {
		Texts    []render.TextItem `json:"texts"`
		Style    render.Style      `json:"style"`
		Duration float64           `json:"durationSeconds"`
	}{req.Texts, req.Style, req.DurationSeconds})
	return "render:" + req.BaseVideo + "|" + req.OverlayImage + "|" + string(shape)
}

func withPrompt(metadata map[string]string, prompt string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if _, ok := out["prompt"]; !ok {
		out["prompt"] = prompt
	}
	return out
}
