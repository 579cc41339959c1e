package cli

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/app"
	"github.com/fpang/holoscene/internal/config"
	"github.com/fpang/holoscene/internal/logging"
)

// InitApp loads configuration and wires the pipeline.
// Returns the context and app ready for use, or exits fatally on failure.
func InitApp(configPath string) (context.Context, *app.App) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.InitWithLevel(cfg.LogLevel)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}

	log.Info().
		Str("imageProvider", cfg.Provider.ImageProvider).
		Str("videoProvider", cfg.Provider.VideoProvider).
		Str("storage", cfg.Storage.Backend).
		Str("store", cfg.Store.Backend).
		Msg("Pipeline initialized")

	return ctx, a
}
