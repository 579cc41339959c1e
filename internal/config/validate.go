package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateCompositor(); err != nil {
		return err
	}
	if err := c.validateBudgets(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProviders() error {
	for _, p := range []struct{ field, value string }{
		{"provider.image_provider", c.Provider.ImageProvider},
		{"provider.video_provider", c.Provider.VideoProvider},
	} {
		switch p.value {
		case "http":
			if c.Provider.BaseURL == "" {
				return fmt.Errorf("%s is http but provider.base_url is empty. Set HOLOSCENE_PROVIDER_BASE_URL", p.field)
			}
		case "veo":
			if c.Gemini.APIKey == "" {
				return fmt.Errorf("%s is veo but gemini.api_key is empty. Set GEMINI_API_KEY", p.field)
			}
		default:
			return fmt.Errorf("%s must be http or veo, got %q", p.field, p.value)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the s3 backend. Set HOLOSCENE_BUCKET")
		}
	case "fs":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the fs backend. Set HOLOSCENE_LOCAL_DIR")
		}
	default:
		return fmt.Errorf("storage.backend must be s3 or fs, got %q", c.Storage.Backend)
	}
	if c.Storage.PresignTTLHours < 0 {
		return errors.New("storage.presign_ttl_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "dynamo":
		if c.Store.Table == "" {
			return errors.New("store.table is required for the dynamo backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be dynamo, sqlite or memory, got %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateCompositor() error {
	cc := c.Compositor
	if cc.Width <= 0 || cc.Height <= 0 || cc.SquareSize <= 0 {
		return errors.New("compositor width, height and square_size must be positive")
	}
	if cc.SquareSize > cc.Width || cc.SquareSize > cc.Height {
		return errors.New("compositor.square_size must fit inside width x height")
	}
	if cc.FPS <= 0 {
		return errors.New("compositor.fps must be positive")
	}
	if c.Render.Concurrency <= 0 {
		return errors.New("render.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateBudgets() error {
	b := c.Budgets
	for _, v := range []struct {
		field string
		value int
	}{
		{"budgets.submit_seconds", b.SubmitSeconds},
		{"budgets.image_poll_seconds", b.ImagePollSeconds},
		{"budgets.image_poll_interval_seconds", b.ImagePollIntervalSeconds},
		{"budgets.video_poll_seconds", b.VideoPollSeconds},
		{"budgets.video_poll_interval_seconds", b.VideoPollIntervalSeconds},
		{"budgets.compose_seconds", b.ComposeSeconds},
		{"budgets.persist_seconds", b.PersistSeconds},
		{"budgets.platform_ceiling_seconds", b.PlatformCeilingSeconds},
		{"render.setup_seconds", c.Render.SetupSeconds},
		{"render.frame_seconds", c.Render.FrameSeconds},
	} {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.field)
		}
	}
	if b.SubmitRetries < 0 {
		return errors.New("budgets.submit_retries must be >= 0")
	}
	if b.VideoPollSeconds < b.ImagePollSeconds {
		return errors.New("budgets.video_poll_seconds must be at least budgets.image_poll_seconds")
	}
	if b.VideoPath() >= b.Ceiling() {
		return fmt.Errorf("video pipeline budget %s must stay under the platform ceiling %s", b.VideoPath(), b.Ceiling())
	}
	if c.Render.RenderPath(b) >= b.Ceiling() {
		return fmt.Errorf("render pipeline budget %s must stay under the platform ceiling %s", c.Render.RenderPath(b), b.Ceiling())
	}
	if c.Render.SetupSeconds >= c.Render.FrameSeconds {
		return errors.New("render.frame_seconds must exceed render.setup_seconds")
	}
	return nil
}
