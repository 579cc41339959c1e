package config

const (
	defaultLogLevel            = "info"
	defaultProvider            = "http"
	defaultAuthScheme          = "Key"
	defaultProviderTimeout     = 30
	defaultImagenModel         = "imagen-4.0-generate-001"
	defaultVeoModel            = "veo-3.0-fast-generate-001"
	defaultStorageBackend      = "s3"
	defaultStoragePrefix       = "artifacts"
	defaultStoreBackend        = "dynamo"
	defaultTable               = "holoscene-artifacts"
	defaultSQLitePath          = "holoscene.db"
	defaultFFmpeg              = "ffmpeg"
	defaultFFprobe             = "ffprobe"
	defaultFrameSize           = 1080
	defaultFPS                 = 30
	defaultCodec               = "libx264"
	defaultPixelFormat         = "yuv420p"
	defaultRenderCommand       = "npx"
	defaultRenderEntry         = "remotion/index.ts"
	defaultRenderConcurrency   = 4
	defaultRenderSetupSeconds  = 60
	defaultRenderFrameSeconds  = 240
	defaultSubmitSeconds       = 30
	defaultSubmitRetries       = 1
	defaultImagePollSeconds    = 60
	defaultImagePollInterval   = 2
	defaultVideoPollSeconds    = 420
	defaultVideoPollInterval   = 5
	defaultComposeSeconds      = 90
	defaultPersistSeconds      = 30
	defaultPlatformCeilingSecs = 800
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		LogLevel: defaultLogLevel,
		Provider: Provider{
			ImageProvider:  defaultProvider,
			VideoProvider:  defaultProvider,
			AuthScheme:     defaultAuthScheme,
			TimeoutSeconds: defaultProviderTimeout,
		},
		Gemini: Gemini{
			ImageModel: defaultImagenModel,
			VideoModel: defaultVeoModel,
		},
		Storage: Storage{
			Backend: defaultStorageBackend,
			Prefix:  defaultStoragePrefix,
		},
		Store: Store{
			Backend:    defaultStoreBackend,
			Table:      defaultTable,
			SQLitePath: defaultSQLitePath,
		},
		Compositor: Compositor{
			FFmpegPath:  defaultFFmpeg,
			FFprobePath: defaultFFprobe,
			Width:       defaultFrameSize,
			Height:      defaultFrameSize,
			SquareSize:  defaultFrameSize,
			FPS:         defaultFPS,
			Codec:       defaultCodec,
			PixelFormat: defaultPixelFormat,
		},
		Render: Render{
			Enabled:      true,
			Command:      defaultRenderCommand,
			EntryPoint:   defaultRenderEntry,
			Concurrency:  defaultRenderConcurrency,
			MediaBindIP:  "127.0.0.1",
			SetupSeconds: defaultRenderSetupSeconds,
			FrameSeconds: defaultRenderFrameSeconds,
		},
		Budgets: Budgets{
			SubmitSeconds:            defaultSubmitSeconds,
			SubmitRetries:            defaultSubmitRetries,
			ImagePollSeconds:         defaultImagePollSeconds,
			ImagePollIntervalSeconds: defaultImagePollInterval,
			VideoPollSeconds:         defaultVideoPollSeconds,
			VideoPollIntervalSeconds: defaultVideoPollInterval,
			ComposeSeconds:           defaultComposeSeconds,
			PersistSeconds:           defaultPersistSeconds,
			PlatformCeilingSeconds:   defaultPlatformCeilingSecs,
		},
	}
}
