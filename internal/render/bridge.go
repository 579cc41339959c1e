package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/composite"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/metrics"
)

// Composition ids registered by the render template.
const (
	CompositionText          = "HoloText"
	CompositionTextSequence  = "HoloTextSequence"
	CompositionTextWithImage = "HoloTextWithImage"
)

// TextItem is one string with its display window.
type TextItem struct {
	Text  string  `json:"text"`
	Start float64 `json:"startSeconds"`
	End   float64 `json:"endSeconds"`
}

// Style controls text appearance.
type Style struct {
	Font      string `json:"fontFamily,omitempty"`
	FontSize  int    `json:"fontSize,omitempty"`
	Color     string `json:"color,omitempty"`
	GlowColor string `json:"glowColor,omitempty"`
	Effect    string `json:"effect,omitempty"`
}

// Request describes one render. One request produces exactly one asset.
type Request struct {
	BaseVideo    *media.Asset
	Texts        []TextItem
	Style        Style
	OverlayImage *media.Asset // optional
	Width        int
	Height       int
	FPS          int
	Duration     time.Duration
}

// Composition picks the template composition for the request's shape.
func (r *Request) Composition() string {
	switch {
	case r.OverlayImage != nil:
		return CompositionTextWithImage
	case len(r.Texts) > 1:
		return CompositionTextSequence
	default:
		return CompositionText
	}
}

// Validate checks the request before any work starts.
func (r *Request) Validate() error {
	if r.BaseVideo == nil {
		return fmt.Errorf("base video is required")
	}
	if len(r.Texts) == 0 {
		return fmt.Errorf("at least one text item is required")
	}
	for i, t := range r.Texts {
		if strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("text %d is empty", i)
		}
		if t.End <= t.Start {
			return fmt.Errorf("text %d: window end %.2fs must follow start %.2fs", i, t.End, t.Start)
		}
	}
	if r.Width <= 0 || r.Height <= 0 || r.FPS <= 0 || r.Duration <= 0 {
		return fmt.Errorf("width, height, fps and duration must be positive")
	}
	return nil
}

// props is what the template receives. Media are URLs on the loopback
// media server, never inline payloads.
type props struct {
	VideoURL        string     `json:"videoUrl"`
	ImageURL        string     `json:"imageUrl,omitempty"`
	Texts           []TextItem `json:"texts"`
	Style           Style      `json:"style"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	FPS             int        `json:"fps"`
	DurationInFrame int        `json:"durationInFrames"`
}

// Options configures a Bridge.
type Options struct {
	Command     string
	TempDir     string
	BindIP      string
	Concurrency int
	// SetupTimeout bounds bundling, staging and server start.
	SetupTimeout time.Duration
	// RenderTimeout bounds the render itself.
	RenderTimeout time.Duration
}

// Bridge renders text overlays through the headless renderer.
type Bridge struct {
	cache   *BundleCache
	runner  composite.Runner
	fetcher *media.Fetcher
	opts    Options
}

// NewBridge creates a bridge. A nil runner uses composite.ExecRunner.
func NewBridge(cache *BundleCache, runner composite.Runner, fetcher *media.Fetcher, opts Options) *Bridge {
	if runner == nil {
		runner = composite.ExecRunner{}
	}
	if opts.Command == "" {
		opts.Command = "npx"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = time.Minute
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 4 * time.Minute
	}
	return &Bridge{cache: cache, runner: runner, fetcher: fetcher, opts: opts}
}

// BuildTemplateOnce returns the shared bundle, compiling it if needed.
func (b *Bridge) BuildTemplateOnce(ctx context.Context) (*BundleHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.SetupTimeout)
	defer cancel()
	return b.cache.Get(ctx)
}

// Render produces one video for req. All staged files and the output are
// removed before it returns.
func (b *Bridge) Render(ctx context.Context, req *Request) (_ *media.Asset, err error) {
	const op = "render.render"
	if err := req.Validate(); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, op, "invalid render request", err)
	}

	composition := req.Composition()
	start := time.Now()
	rec := metrics.ForStage("render").Dimension("Composition", composition)
	defer func() {
		rec.Duration("RenderLatency", time.Since(start))
		if err != nil {
			rec.Count("RenderError").Property("errorKind", string(apperr.KindOf(err)))
		} else {
			rec.Count("RenderOK")
		}
		rec.Flush()
	}()

	// Bundling, staging and server start share one setup budget.
	setupCtx, cancelSetup := context.WithTimeout(ctx, b.opts.SetupTimeout)
	defer cancelSetup()

	bundle, err := b.cache.Get(setupCtx)
	if err != nil {
		return nil, err
	}

	scope := media.NewTempScope(b.opts.TempDir)
	defer func() {
		if cerr := scope.Cleanup(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to remove render temp files")
		}
	}()

	dir := b.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	server, err := StartMediaServer(dir, b.opts.BindIP)
	if err != nil {
		return nil, apperr.New(apperr.KindRenderFailed, op, "start media server", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := server.Close(shutdownCtx); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to stop render media server")
		}
	}()

	p := props{
		Texts:           req.Texts,
		Style:           req.Style,
		Width:           req.Width,
		Height:          req.Height,
		FPS:             req.FPS,
		DurationInFrame: int(req.Duration.Seconds() * float64(req.FPS)),
	}
	if p.VideoURL, err = b.stage(setupCtx, server, scope, req.BaseVideo); err != nil {
		return nil, err
	}
	if req.OverlayImage != nil {
		if p.ImageURL, err = b.stage(setupCtx, server, scope, req.OverlayImage); err != nil {
			return nil, err
		}
	}
	propsPath, err := writeProps(scope, p)
	if err != nil {
		return nil, apperr.New(apperr.KindRenderFailed, op, "write props", err)
	}
	if setupCtx.Err() != nil {
		return nil, apperr.FromContext(op, setupCtx.Err())
	}

	outputPath, err := scope.Path("holo-render-*.mp4")
	if err != nil {
		return nil, apperr.New(apperr.KindRenderFailed, op, "reserve output path", err)
	}

	renderCtx, cancelRender := context.WithTimeout(ctx, b.opts.RenderTimeout)
	defer cancelRender()
	args := []string{
		"remotion", "render", bundle.Path, composition, outputPath,
		"--props=" + propsPath,
		"--concurrency=" + strconv.Itoa(b.opts.Concurrency),
		"--timeout=" + strconv.FormatInt(b.opts.RenderTimeout.Milliseconds(), 10),
		"--width=" + strconv.Itoa(req.Width),
		"--height=" + strconv.Itoa(req.Height),
		"--log=error",
	}
	log.Debug().Str("composition", composition).Strs("args", args).Msg("Starting render")

	renderStart := time.Now()
	stderr, err := b.runner.Run(renderCtx, b.opts.Command, args)
	if err != nil {
		if renderCtx.Err() != nil {
			return nil, apperr.FromContext(op, renderCtx.Err())
		}
		return nil, &apperr.Error{
			Kind:    apperr.KindRenderFailed,
			Op:      op,
			Message: "renderer exited with error",
			Detail:  lastLine(stderr),
			Err:     err,
		}
	}

	data, err := os.ReadFile(outputPath)
	if err != nil || len(data) == 0 {
		return nil, apperr.New(apperr.KindRenderFailed, op, "renderer produced no output", err)
	}
	log.Info().
		Str("composition", composition).
		Int("texts", len(req.Texts)).
		Int("outputBytes", len(data)).
		Dur("renderTime", time.Since(renderStart)).
		Msg("Render complete")

	return &media.Asset{
		Location:  media.Inline,
		Data:      data,
		MimeType:  "video/mp4",
		SizeBytes: int64(len(data)),
		Width:     req.Width,
		Height:    req.Height,
		FrameRate: float64(req.FPS),
		Duration:  req.Duration,
	}, nil
}

// stage copies an asset into the served directory under an allow-listed
// name and returns its URL.
func (b *Bridge) stage(ctx context.Context, server *MediaServer, scope *media.TempScope, a *media.Asset) (string, error) {
	rc, err := b.fetcher.Open(ctx, a)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	// Open refines the MIME type of remote assets from the response.
	mimeType := a.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = media.MimeFromPath(a.URI)
	}
	f, err := scope.Create("holo-in-*" + media.ExtForMime(mimeType))
	if err != nil {
		return "", apperr.New(apperr.KindRenderFailed, "render.stage", "create staged file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, rc); err != nil {
		if ctx.Err() != nil {
			return "", apperr.FromContext("render.stage", ctx.Err())
		}
		return "", apperr.New(apperr.KindDownloadFailed, "render.stage", "stage media", err)
	}
	u, err := server.URL(filepath.Base(f.Name()))
	if err != nil {
		return "", apperr.New(apperr.KindInvalidInput, "render.stage", "unsupported media type "+mimeType, err)
	}
	return u, nil
}

func writeProps(scope *media.TempScope, p props) (string, error) {
	f, err := scope.Create("props-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(p); err != nil {
		return "", err
	}
	return f.Name(), nil
}
