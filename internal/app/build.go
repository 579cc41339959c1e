// Package app assembles the pipeline from configuration. The CLI and the
// Lambda entry point share it so both run the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/blob"
	"github.com/fpang/holoscene/internal/composite"
	"github.com/fpang/holoscene/internal/config"
	"github.com/fpang/holoscene/internal/genjob"
	"github.com/fpang/holoscene/internal/genjob/veo"
	"github.com/fpang/holoscene/internal/lambdaboot"
	"github.com/fpang/holoscene/internal/logging"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/persist"
	"github.com/fpang/holoscene/internal/pipeline"
	"github.com/fpang/holoscene/internal/render"
	"github.com/fpang/holoscene/internal/store"
)

// App is a fully wired pipeline.
type App struct {
	Config      *config.Config
	Coordinator *pipeline.Coordinator
	Fetcher     *media.Fetcher
	Storage     blob.Storage
	Records     store.ArtifactStore
	Providers   genjob.Registry
	Engine      *composite.Engine
	Bridge      *render.Bridge // nil when rendering is disabled

	aws     *lambdaboot.AWSClients
	s3      *lambdaboot.S3Clients
	closers []func() error
}

// Build wires every component named by cfg. AWS clients are created only
// when a configured backend needs them.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.initAWS(ctx); err != nil {
		return nil, err
	}

	var getter media.ObjectGetter
	if a.aws != nil {
		s3c := lambdaboot.InitS3(a.aws.Config, cfg.Storage.Bucket)
		a.s3 = &s3c
		getter = s3c.Client
	}
	a.Fetcher = media.NewFetcher(getter)

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initStore(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initProviders(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.initMedia()

	images, err := a.Providers.Get(cfg.Provider.ImageProvider)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("image provider: %w", err)
	}
	videos, err := a.Providers.Get(cfg.Provider.VideoProvider)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("video provider: %w", err)
	}

	deps := pipeline.Deps{
		Images:     genjob.NewClient(images),
		Videos:     genjob.NewClient(videos),
		Fetcher:    a.Fetcher,
		Compositor: a.Engine,
		Gateway:    persist.NewGateway(a.Storage, a.Records, a.Fetcher),
		Records:    a.Records,
		Budgets:    cfg.Budgets,
		Render:     cfg.Render,
		Output:     cfg.Compositor,
	}
	if a.Bridge != nil {
		deps.Renderer = a.Bridge
	}
	a.Coordinator, err = pipeline.New(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) needsAWS() bool {
	return a.Config.Storage.Backend == "s3" || a.Config.Store.Backend == "dynamo"
}

func (a *App) initAWS(ctx context.Context) error {
	if !a.needsAWS() {
		return nil
	}
	clients, err := lambdaboot.LoadAWS(ctx)
	if err != nil {
		return err
	}
	a.aws = &clients
	return nil
}

func (a *App) initStorage() error {
	sc := a.Config.Storage
	switch sc.Backend {
	case "s3":
		a.Storage = blob.NewS3Storage(a.s3.Client, a.s3.Presigner, blob.S3Options{
			Bucket:        sc.Bucket,
			Prefix:        sc.Prefix,
			Region:        a.aws.Config.Region,
			PublicBaseURL: sc.PublicBaseURL,
			PresignTTL:    time.Duration(sc.PresignTTLHours) * time.Hour,
		})
	case "fs":
		fs, err := blob.NewFileStorage(sc.LocalDir, sc.PublicBaseURL)
		if err != nil {
			return err
		}
		a.Storage = fs
	default:
		return fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	return nil
}

func (a *App) initStore() error {
	sc := a.Config.Store
	switch sc.Backend {
	case "dynamo":
		a.Records = lambdaboot.InitDynamo(a.aws.Config, sc.Table)
	case "sqlite":
		db, err := store.OpenSQLite(sc.SQLitePath)
		if err != nil {
			return err
		}
		a.Records = db
		a.closers = append(a.closers, db.Close)
	case "memory":
		a.Records = store.NewMemoryStore()
	default:
		return fmt.Errorf("unknown store backend %q", sc.Backend)
	}
	return nil
}

func (a *App) initProviders(ctx context.Context) error {
	cfg := a.Config
	a.Providers = genjob.Registry{}
	if cfg.Provider.BaseURL != "" {
		a.Providers.Register(genjob.NewHTTPProvider(genjob.HTTPConfig{
			BaseURL:    cfg.Provider.BaseURL,
			APIKey:     cfg.Provider.APIKey,
			AuthScheme: cfg.Provider.AuthScheme,
			ImageModel: cfg.Provider.ImageModel,
			VideoModel: cfg.Provider.VideoModel,
			Timeout:    time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		}))
	}
	if cfg.Gemini.APIKey != "" {
		p, err := veo.New(ctx, veo.Config{
			APIKey:     cfg.Gemini.APIKey,
			ImageModel: cfg.Gemini.ImageModel,
			VideoModel: cfg.Gemini.VideoModel,
		}, a.Fetcher)
		if err != nil {
			return err
		}
		a.Providers.Register(p)
	}
	return nil
}

func (a *App) initMedia() {
	cc := a.Config.Compositor
	opts := composite.Options{FFmpegPath: cc.FFmpegPath, TempDir: cc.TempDir}
	if cc.Verify {
		opts.Prober = &media.Prober{Path: cc.FFprobePath}
	}
	a.Engine = composite.NewEngine(nil, a.Fetcher, opts)

	rc := a.Config.Render
	if !rc.Enabled {
		return
	}
	cache := render.NewBundleCache(render.CommandBundler{
		Command:    rc.Command,
		EntryPoint: rc.EntryPoint,
	}, rc.BundleDir)
	a.Bridge = render.NewBridge(cache, nil, a.Fetcher, render.Options{
		Command:       rc.Command,
		TempDir:       cc.TempDir,
		BindIP:        rc.MediaBindIP,
		Concurrency:   rc.Concurrency,
		SetupTimeout:  rc.Setup(),
		RenderTimeout: rc.Frames(),
	})
}

// Warm compiles the render bundle ahead of the first request.
func (a *App) Warm(ctx context.Context) {
	if a.Bridge == nil {
		return
	}
	if _, err := a.Bridge.BuildTemplateOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("Render bundle warm-up failed, will retry on first render")
	}
}

// StartupLog fills sl with how this App was wired.
func (a *App) StartupLog(sl *logging.StartupLogger) *logging.StartupLogger {
	cfg := a.Config
	sl.Config("imageProvider", cfg.Provider.ImageProvider).
		Config("videoProvider", cfg.Provider.VideoProvider).
		Config("storage", cfg.Storage.Backend).
		Config("store", cfg.Store.Backend).
		Binary("ffmpeg", cfg.Compositor.FFmpegPath).
		Feature("veo", a.Providers["veo"] != nil).
		Feature("render", a.Bridge != nil).
		Feature("verify", cfg.Compositor.Verify).
		Budget("submit", cfg.Budgets.Submit()).
		Budget("imagePoll", cfg.Budgets.ImagePoll()).
		Budget("videoPoll", cfg.Budgets.VideoPoll()).
		Budget("compose", cfg.Budgets.Compose()).
		Budget("persist", cfg.Budgets.Persist()).
		Budget("videoPath", cfg.Budgets.VideoPath()).
		Budget("ceiling", cfg.Budgets.Ceiling())
	if cfg.Storage.Backend == "s3" {
		sl.S3Bucket("artifacts", cfg.Storage.Bucket)
	}
	if cfg.Store.Backend == "dynamo" {
		sl.DynamoTable("artifacts", cfg.Store.Table)
	}
	if a.Bridge != nil {
		sl.Binary("render", cfg.Render.Command).Budget("renderPath", cfg.Render.RenderPath(cfg.Budgets))
	}
	return sl
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
