// Package composite layers images and video clips into a single output
// video by running ffmpeg. A CompositionSpec is immutable; Compose is a
// pure function of the spec and its inputs apart from temp files, which
// are always removed before it returns.
package composite

import (
	"fmt"
	"time"
)

// BlendMode selects how a layer combines with the layers beneath it.
type BlendMode string

const (
	// BlendNormal draws the layer opaquely.
	BlendNormal BlendMode = "normal"
	// BlendScreen keys out near-black pixels; hologram footage on a black
	// field drops onto the base without a visible box.
	BlendScreen   BlendMode = "screen"
	BlendLighten  BlendMode = "lighten"
	BlendAddition BlendMode = "addition"
)

func (m BlendMode) valid() bool {
	switch m {
	case BlendNormal, BlendScreen, BlendLighten, BlendAddition:
		return true
	}
	return false
}

// Transform describes how one layer is fitted into the frame.
type Transform struct {
	// Square, when positive, scales the layer to fit a Square x Square box
	// (aspect preserved, letterboxed in black) centred in the frame.
	// Zero fits the layer to the full frame.
	Square int
	Blend  BlendMode
}

// Layer is one input of a composition. Layer 0 is the base.
type Layer struct {
	Name      string
	Transform Transform
}

// CompositionSpec fully determines an output.
type CompositionSpec struct {
	Layers      []Layer
	Duration    time.Duration
	FPS         int
	Width       int
	Height      int
	Codec       string
	PixelFormat string
	// Format is the container, e.g. "mp4".
	Format string
}

// OverlaySpec is the standard two-layer composition: a still base held for
// the whole duration with a foreground clip screen-blended inside a
// centred square.
func OverlaySpec(width, height, square, fps int, duration time.Duration) CompositionSpec {
	return CompositionSpec{
		Layers: []Layer{
			{Name: "base", Transform: Transform{Blend: BlendNormal}},
			{Name: "foreground", Transform: Transform{Square: square, Blend: BlendScreen}},
		},
		Duration:    duration,
		FPS:         fps,
		Width:       width,
		Height:      height,
		Codec:       "libx264",
		PixelFormat: "yuv420p",
		Format:      "mp4",
	}
}

// Validate checks that the spec can be rendered.
func (s CompositionSpec) Validate() error {
	if len(s.Layers) == 0 {
		return fmt.Errorf("composition has no layers")
	}
	if s.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", s.Duration)
	}
	if s.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", s.FPS)
	}
	if s.Width <= 0 || s.Height <= 0 || s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("resolution must be positive and even, got %dx%d", s.Width, s.Height)
	}
	for i, l := range s.Layers {
		if i > 0 && !l.Transform.Blend.valid() {
			return fmt.Errorf("layer %d (%s): unknown blend mode %q", i, l.Name, l.Transform.Blend)
		}
		if sq := l.Transform.Square; sq < 0 || sq > s.Width || sq > s.Height {
			return fmt.Errorf("layer %d (%s): square %d does not fit %dx%d", i, l.Name, sq, s.Width, s.Height)
		}
	}
	return nil
}

func (s CompositionSpec) codec() string {
	if s.Codec == "" {
		return "libx264"
	}
	return s.Codec
}

func (s CompositionSpec) pixelFormat() string {
	if s.PixelFormat == "" {
		return "yuv420p"
	}
	return s.PixelFormat
}

func (s CompositionSpec) format() string {
	if s.Format == "" {
		return "mp4"
	}
	return s.Format
}
