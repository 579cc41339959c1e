// Package veo adapts Google's generative media models to the genjob
// Provider interface: Veo video generation runs as a long-running
// operation that is polled by name, Imagen image generation is synchronous.
package veo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/genjob"
	"github.com/fpang/holoscene/internal/media"
)

// Default models.
const (
	DefaultImageModel = "imagen-4.0-generate-001"
	DefaultVideoModel = "veo-3.0-fast-generate-001"
)

// Config configures the provider.
type Config struct {
	APIKey     string
	ImageModel string
	VideoModel string
}

// Provider implements genjob.Provider on top of the genai SDK.
type Provider struct {
	client  *genai.Client
	fetcher *media.Fetcher
	cfg     Config
}

// New creates a genai client for the Gemini API backend. The fetcher
// resolves reference images passed by URL.
func New(ctx context.Context, cfg Config, fetcher *media.Fetcher) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Newf(apperr.KindInvalidInput, "veo.new", "gemini api key is required")
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = DefaultVideoModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	log.Debug().Str("imageModel", cfg.ImageModel).Str("videoModel", cfg.VideoModel).Msg("Veo provider initialized")
	return &Provider{client: client, fetcher: fetcher, cfg: cfg}, nil
}

// Name implements genjob.Provider.
func (p *Provider) Name() string { return "veo" }

// Submit implements genjob.Provider.
func (p *Provider) Submit(ctx context.Context, req genjob.Request) (*genjob.GenerationJob, error) {
	switch req.Kind {
	case genjob.KindImage:
		return p.submitImage(ctx, req)
	case genjob.KindVideo:
		return p.submitVideo(ctx, req)
	default:
		return nil, apperr.Newf(apperr.KindInvalidInput, "veo.submit", "unsupported kind %q", req.Kind)
	}
}

// submitImage runs Imagen synchronously; the returned job is already
// terminal and carries the image as a data: URI.
func (p *Provider) submitImage(ctx context.Context, req genjob.Request) (*genjob.GenerationJob, error) {
	model := firstNonEmpty(req.Model, p.cfg.ImageModel)
	startTime := time.Now()
	resp, err := p.client.Models.GenerateImages(ctx, model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      req.AspectRatio,
		IncludeRAIReason: true,
		OutputMIMEType:   "image/png",
	})
	if err != nil {
		return nil, wrapError(ctx, "veo.submit", err)
	}
	log.Debug().Str("model", model).Dur("duration", time.Since(startTime)).Msg("Imagen call completed")

	job := &genjob.GenerationJob{
		ID:          "imagen-" + startTime.UTC().Format("20060102T150405.000000000"),
		Kind:        genjob.KindImage,
		Provider:    p.Name(),
		SubmittedAt: startTime,
		State:       genjob.StateQueued,
	}
	job.Apply(imageUpdate(resp))
	return job, nil
}

// imageUpdate maps an Imagen response to a terminal update.
func imageUpdate(resp *genai.GenerateImagesResponse) genjob.Update {
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return genjob.Update{State: genjob.StateFailed, Reason: "no images returned"}
	}
	img := resp.GeneratedImages[0]
	if img.RAIFilteredReason != "" {
		return genjob.Update{State: genjob.StateContentBlocked, Reason: img.RAIFilteredReason}
	}
	if img.Image == nil || len(img.Image.ImageBytes) == 0 {
		return genjob.Update{State: genjob.StateFailed, Reason: "image response carries no bytes"}
	}
	mimeType := firstNonEmpty(img.Image.MIMEType, "image/png")
	return genjob.Update{
		State:     genjob.StateCompleted,
		ResultURL: media.EncodeDataURI(mimeType, img.Image.ImageBytes),
	}
}

func (p *Provider) submitVideo(ctx context.Context, req genjob.Request) (*genjob.GenerationJob, error) {
	model := firstNonEmpty(req.Model, p.cfg.VideoModel)

	var ref *genai.Image
	if req.ReferenceImage != "" {
		img, err := p.referenceImage(ctx, req.ReferenceImage)
		if err != nil {
			return nil, err
		}
		ref = img
	}

	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    req.AspectRatio,
	}
	if req.DurationSeconds > 0 {
		d := int32(req.DurationSeconds)
		cfg.DurationSeconds = &d
	}

	op, err := p.client.Models.GenerateVideos(ctx, model, req.Prompt, ref, cfg)
	if err != nil {
		return nil, wrapError(ctx, "veo.submit", err)
	}
	job := &genjob.GenerationJob{
		ID:          op.Name,
		Kind:        genjob.KindVideo,
		Provider:    p.Name(),
		SubmittedAt: time.Now(),
		State:       genjob.StateQueued,
	}
	if op.Done {
		u, err := p.videoUpdate(ctx, op)
		if err != nil {
			return nil, err
		}
		job.Apply(u)
	}
	return job, nil
}

func (p *Provider) referenceImage(ctx context.Context, ref string) (*genai.Image, error) {
	asset, err := p.fetcher.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	rc, err := p.fetcher.Open(ctx, asset)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.New(apperr.KindDownloadFailed, "veo.reference", "read reference image", err)
	}
	return &genai.Image{ImageBytes: data, MIMEType: asset.MimeType}, nil
}

// Status implements genjob.Provider.
func (p *Provider) Status(ctx context.Context, job *genjob.GenerationJob) (genjob.Update, error) {
	op, err := p.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: job.ID}, nil)
	if err != nil {
		return genjob.Update{}, wrapError(ctx, "veo.status", err)
	}
	return p.videoUpdate(ctx, op)
}

// videoUpdate maps an operation to an update, downloading the finished
// video when the API only returned a file URI.
func (p *Provider) videoUpdate(ctx context.Context, op *genai.GenerateVideosOperation) (genjob.Update, error) {
	u, video := operationUpdate(op)
	if video == nil {
		return u, nil
	}
	if len(video.Video.VideoBytes) == 0 {
		data, err := p.client.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(video), nil)
		if err != nil {
			return genjob.Update{}, wrapError(ctx, "veo.download", err)
		}
		if len(video.Video.VideoBytes) == 0 {
			video.Video.VideoBytes = data
		}
	}
	u.ResultURL = media.EncodeDataURI(firstNonEmpty(video.Video.MIMEType, "video/mp4"), video.Video.VideoBytes)
	u.OriginURL = video.Video.URI
	return u, nil
}

// operationUpdate classifies a video operation. The returned video is
// non-nil only for a completed operation.
func operationUpdate(op *genai.GenerateVideosOperation) (genjob.Update, *genai.GeneratedVideo) {
	if op.Error != nil {
		return genjob.Update{State: genjob.StateFailed, Reason: errorMessage(op.Error)}, nil
	}
	if !op.Done {
		return genjob.Update{State: genjob.StateInProgress}, nil
	}
	resp := op.Response
	if resp != nil && resp.RAIMediaFilteredCount > 0 {
		return genjob.Update{State: genjob.StateContentBlocked, Reason: strings.Join(resp.RAIMediaFilteredReasons, "; ")}, nil
	}
	if resp == nil || len(resp.GeneratedVideos) == 0 || resp.GeneratedVideos[0].Video == nil {
		return genjob.Update{State: genjob.StateFailed, Reason: "operation finished without a video"}, nil
	}
	return genjob.Update{State: genjob.StateCompleted}, resp.GeneratedVideos[0]
}

func errorMessage(e map[string]any) string {
	if msg, ok := e["message"].(string); ok && msg != "" {
		return msg
	}
	return fmt.Sprint(e)
}

// wrapError maps SDK errors onto the pipeline taxonomy: API errors are
// provider rejections, anything else is a transport failure.
func wrapError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.FromContext(op, ctx.Err())
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		log.Error().Int("code", apiErr.Code).Str("status", apiErr.Status).Str("message", apiErr.Message).Msg("Gemini API error")
		return &apperr.Error{
			Kind:       apperr.KindProviderRejected,
			Op:         op,
			Message:    apiErr.Status,
			Detail:     apiErr.Message,
			StatusCode: apiErr.Code,
			Err:        err,
		}
	}
	return apperr.New(apperr.KindProviderUnavailable, op, "request failed", err)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
