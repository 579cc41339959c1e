// Package config loads pipeline configuration.
//
// Precedence, lowest first: built-in defaults, a .env file in the working
// directory, an optional TOML file, then HOLOSCENE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full pipeline configuration.
type Config struct {
	LogLevel   string     `toml:"log_level"`
	Provider   Provider   `toml:"provider"`
	Gemini     Gemini     `toml:"gemini"`
	Storage    Storage    `toml:"storage"`
	Store      Store      `toml:"store"`
	Compositor Compositor `toml:"compositor"`
	Render     Render     `toml:"render"`
	Budgets    Budgets    `toml:"budgets"`
}

// Provider selects and configures the generative-media providers.
type Provider struct {
	// ImageProvider and VideoProvider are "http" or "veo".
	ImageProvider  string `toml:"image_provider"`
	VideoProvider  string `toml:"video_provider"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	AuthScheme     string `toml:"auth_scheme"`
	ImageModel     string `toml:"image_model"`
	VideoModel     string `toml:"video_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Gemini configures the Google genai-backed provider.
type Gemini struct {
	APIKey     string `toml:"api_key"`
	ImageModel string `toml:"image_model"`
	VideoModel string `toml:"video_model"`
}

// Storage configures durable blob storage.
type Storage struct {
	// Backend is "s3" or "fs".
	Backend         string `toml:"backend"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	PublicBaseURL   string `toml:"public_base_url"`
	PresignTTLHours int    `toml:"presign_ttl_hours"`
	LocalDir        string `toml:"local_dir"`
}

// Store configures the artifact and run record store.
type Store struct {
	// Backend is "dynamo", "sqlite" or "memory".
	Backend    string `toml:"backend"`
	Table      string `toml:"table"`
	SQLitePath string `toml:"sqlite_path"`
}

// Compositor configures the ffmpeg-based compositing engine.
type Compositor struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
	TempDir     string `toml:"temp_dir"`
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	SquareSize  int    `toml:"square_size"`
	FPS         int    `toml:"fps"`
	Codec       string `toml:"codec"`
	PixelFormat string `toml:"pixel_format"`
	// Verify probes every composed output with ffprobe.
	Verify bool `toml:"verify"`
}

// Render configures the headless-browser render bridge.
type Render struct {
	Enabled      bool   `toml:"enabled"`
	Command      string `toml:"command"`
	EntryPoint   string `toml:"entry_point"`
	BundleDir    string `toml:"bundle_dir"`
	Concurrency  int    `toml:"concurrency"`
	MediaBindIP  string `toml:"media_bind_ip"`
	SetupSeconds int    `toml:"setup_seconds"`
	FrameSeconds int    `toml:"frame_seconds"`
}

// Budgets holds per-stage time budgets in seconds.
type Budgets struct {
	SubmitSeconds            int `toml:"submit_seconds"`
	SubmitRetries            int `toml:"submit_retries"`
	ImagePollSeconds         int `toml:"image_poll_seconds"`
	ImagePollIntervalSeconds int `toml:"image_poll_interval_seconds"`
	VideoPollSeconds         int `toml:"video_poll_seconds"`
	VideoPollIntervalSeconds int `toml:"video_poll_interval_seconds"`
	ComposeSeconds           int `toml:"compose_seconds"`
	PersistSeconds           int `toml:"persist_seconds"`
	PlatformCeilingSeconds   int `toml:"platform_ceiling_seconds"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Submit is the budget for one provider submit call.
func (b Budgets) Submit() time.Duration { return seconds(b.SubmitSeconds) }

// ImagePoll is the image job poll budget.
func (b Budgets) ImagePoll() time.Duration { return seconds(b.ImagePollSeconds) }

// ImagePollInterval is the image job poll interval.
func (b Budgets) ImagePollInterval() time.Duration { return seconds(b.ImagePollIntervalSeconds) }

// VideoPoll is the video job poll budget.
func (b Budgets) VideoPoll() time.Duration { return seconds(b.VideoPollSeconds) }

// VideoPollInterval is the video job poll interval.
func (b Budgets) VideoPollInterval() time.Duration { return seconds(b.VideoPollIntervalSeconds) }

// Compose is the compositing budget.
func (b Budgets) Compose() time.Duration { return seconds(b.ComposeSeconds) }

// Persist is the persistence budget.
func (b Budgets) Persist() time.Duration { return seconds(b.PersistSeconds) }

// Ceiling is the hosting platform's hard execution limit.
func (b Budgets) Ceiling() time.Duration { return seconds(b.PlatformCeilingSeconds) }

// VideoPath is the total budget of the full image → video → composite →
// persist sequence, including submit retries.
func (b Budgets) VideoPath() time.Duration {
	submits := 2 * (b.SubmitRetries + 1) * b.SubmitSeconds
	return seconds(submits + b.ImagePollSeconds + b.VideoPollSeconds + b.ComposeSeconds + b.PersistSeconds)
}

// RenderPath is the total budget of a render + persist run.
func (r Render) RenderPath(b Budgets) time.Duration {
	return seconds(r.SetupSeconds + r.FrameSeconds + b.PersistSeconds)
}

// Setup is the short render tier.
func (r Render) Setup() time.Duration { return seconds(r.SetupSeconds) }

// Frames is the long render tier.
func (r Render) Frames() time.Duration { return seconds(r.FrameSeconds) }

// Load builds a Config from defaults, .env, the optional TOML file at path
// and the environment, then validates it. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays HOLOSCENE_* variables onto c.
func (c *Config) applyEnv() {
	setString(&c.LogLevel, "HOLOSCENE_LOG_LEVEL")
	setString(&c.Provider.ImageProvider, "HOLOSCENE_IMAGE_PROVIDER")
	setString(&c.Provider.VideoProvider, "HOLOSCENE_VIDEO_PROVIDER")
	setString(&c.Provider.BaseURL, "HOLOSCENE_PROVIDER_BASE_URL")
	setString(&c.Provider.APIKey, "HOLOSCENE_PROVIDER_API_KEY")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Storage.Backend, "HOLOSCENE_STORAGE_BACKEND")
	setString(&c.Storage.Bucket, "HOLOSCENE_BUCKET")
	setString(&c.Storage.LocalDir, "HOLOSCENE_LOCAL_DIR")
	setString(&c.Storage.PublicBaseURL, "HOLOSCENE_PUBLIC_BASE_URL")
	setString(&c.Store.Backend, "HOLOSCENE_STORE_BACKEND")
	setString(&c.Store.Table, "HOLOSCENE_TABLE")
	setString(&c.Store.SQLitePath, "HOLOSCENE_SQLITE_PATH")
	setString(&c.Compositor.FFmpegPath, "HOLOSCENE_FFMPEG")
	setString(&c.Compositor.FFprobePath, "HOLOSCENE_FFPROBE")
	setString(&c.Compositor.TempDir, "HOLOSCENE_TEMP_DIR")
	setString(&c.Render.Command, "HOLOSCENE_RENDER_COMMAND")
	setString(&c.Render.EntryPoint, "HOLOSCENE_RENDER_ENTRY")
	setInt(&c.Budgets.PlatformCeilingSeconds, "HOLOSCENE_PLATFORM_CEILING_SECONDS")
	if v := os.Getenv("HOLOSCENE_RENDER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Render.Enabled = b
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
