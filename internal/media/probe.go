package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// VideoInfo is the subset of ffprobe output the pipeline checks.
type VideoInfo struct {
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate float64
	Codec     string
	PixFmt    string
	HasAudio  bool
}

// Prober runs ffprobe.
type Prober struct {
	// Path is the ffprobe binary; "" means "ffprobe" on PATH.
	Path string
}

func (p *Prober) bin() string {
	if p == nil || p.Path == "" {
		return "ffprobe"
	}
	return p.Path
}

// CheckBinary verifies that name resolves to an executable on PATH.
func CheckBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH. Install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)", name)
	}
	log.Debug().Str("binary", name).Str("path", path).Msg("Binary found")
	return path, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

type ffprobeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	PixFmt     string `json:"pix_fmt"`
	Duration   string `json:"duration"`
}

// Probe inspects a local video file.
func (p *Prober) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, p.bin(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	info, err := parseProbe(out)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("path", path).
		Dur("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("frame_rate", info.FrameRate).
		Str("codec", info.Codec).
		Msg("Video probed")
	return info, nil
}

func parseProbe(out []byte) (*VideoInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{Duration: parseSeconds(probe.Format.Duration)}
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if info.Width != 0 {
				continue
			}
			info.Width, info.Height = s.Width, s.Height
			info.Codec = s.CodecName
			info.PixFmt = s.PixFmt
			info.FrameRate = parseFrameRate(s.RFrameRate)
			if info.Duration == 0 {
				info.Duration = parseSeconds(s.Duration)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if info.Width == 0 {
		return nil, fmt.Errorf("no video stream in ffprobe output")
	}
	return info, nil
}

func parseSeconds(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// parseFrameRate parses ffprobe rationals such as "30000/1001".
func parseFrameRate(value string) float64 {
	num, den, ok := strings.Cut(value, "/")
	if ok {
		n, _ := strconv.ParseFloat(num, 64)
		d, _ := strconv.ParseFloat(den, 64)
		if d != 0 {
			return n / d
		}
		return 0
	}
	rate, _ := strconv.ParseFloat(value, 64)
	return rate
}
