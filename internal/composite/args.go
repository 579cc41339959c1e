package composite

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// input is a materialized layer.
type input struct {
	path  string
	still bool
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// buildArgs constructs the ffmpeg command line for spec. Every layer is
// normalized to the same size, frame rate and planar RGB so the blend is
// well defined; clips shorter than the output hold their last frame.
func buildArgs(spec CompositionSpec, inputs []input, outputPath string) []string {
	dur := seconds(spec.Duration)
	fps := strconv.Itoa(spec.FPS)

	args := []string{"-hide_banner", "-loglevel", "error"}
	for _, in := range inputs {
		if in.still {
			args = append(args, "-loop", "1", "-framerate", fps, "-t", dur)
		}
		args = append(args, "-i", in.path)
	}

	var graph []string
	for i, in := range inputs {
		graph = append(graph, fmt.Sprintf("[%d:v]%s[l%d]", i, layerChain(spec, spec.Layers[i], in.still), i))
	}

	last := "l0"
	for i := 1; i < len(inputs); i++ {
		out := fmt.Sprintf("c%d", i)
		graph = append(graph, fmt.Sprintf("[%s][l%d]blend=all_mode=%s[%s]", last, i, spec.Layers[i].Transform.Blend, out))
		last = out
	}
	graph = append(graph, fmt.Sprintf("[%s]trim=duration=%s,format=%s[out]", last, dur, spec.pixelFormat()))

	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "[out]",
		"-t", dur,
		"-r", fps,
		"-c:v", spec.codec(),
		"-pix_fmt", spec.pixelFormat(),
		"-an",
	)
	if spec.format() == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-f", spec.format(), "-y", outputPath)
	return args
}

// layerChain is the per-layer filter chain.
func layerChain(spec CompositionSpec, l Layer, still bool) string {
	w, h := spec.Width, spec.Height
	var f []string
	if sq := l.Transform.Square; sq > 0 {
		f = append(f,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", sq, sq),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", sq, sq),
		)
	} else {
		f = append(f, fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h))
	}
	f = append(f,
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", w, h),
		"setsar=1",
		fmt.Sprintf("fps=%d", spec.FPS),
	)
	if !still {
		f = append(f, fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%s", seconds(spec.Duration)))
	}
	f = append(f,
		fmt.Sprintf("trim=duration=%s", seconds(spec.Duration)),
		"setpts=PTS-STARTPTS",
		"format=gbrp",
	)
	return strings.Join(f, ",")
}
