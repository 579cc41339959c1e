package composite

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/media"
)

// fakeRunner records the command and writes the output file (the last
// argument) unless fail is set.
type fakeRunner struct {
	mu     sync.Mutex
	args   []string
	inputs map[string]bool // input paths that existed during Run
	fail   bool
	output []byte
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = args
	r.inputs = make(map[string]bool)
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			_, err := os.Stat(args[i+1])
			r.inputs[args[i+1]] = err == nil
		}
	}
	if r.fail {
		return []byte("Error initializing complex filters.\nInvalid argument"), errors.New("exit status 1")
	}
	out := r.output
	if out == nil {
		out = []byte("fake-mp4")
	}
	return nil, os.WriteFile(args[len(args)-1], out, 0o644)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testInputs(t *testing.T) []*media.Asset {
	return []*media.Asset{
		{Location: media.Inline, Data: pngBytes(t), MimeType: "image/png"},
		{Location: media.Inline, Data: []byte("clip"), MimeType: "video/mp4"},
	}
}

func TestComposeCleansUpOnSuccess(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	engine := NewEngine(runner, media.NewFetcher(nil), Options{TempDir: dir})

	out, err := engine.Compose(context.Background(), OverlaySpec(1080, 1080, 720, 30, 5*time.Second), testInputs(t))
	if err != nil {
		t.Fatalf("Compose() = %v", err)
	}
	if string(out.Data) != "fake-mp4" || out.MimeType != "video/mp4" || out.Location != media.Inline {
		t.Errorf("output = %s", out)
	}
	if out.Duration != 5*time.Second || out.FrameRate != 30 {
		t.Errorf("output duration/fps = %s/%v", out.Duration, out.FrameRate)
	}
	for p, existed := range runner.inputs {
		if !existed {
			t.Errorf("input %s missing while ffmpeg ran", p)
		}
	}
	assertEmptyDir(t, dir)
}

func TestComposeCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(&fakeRunner{fail: true}, media.NewFetcher(nil), Options{TempDir: dir})

	_, err := engine.Compose(context.Background(), OverlaySpec(1080, 1080, 720, 30, 5*time.Second), testInputs(t))
	if !errors.Is(err, apperr.CompositingFailed) {
		t.Fatalf("err = %v, want CompositingFailed", err)
	}
	var e *apperr.Error
	errors.As(err, &e)
	if !strings.Contains(e.Detail, "Invalid argument") {
		t.Errorf("Detail = %q, want ffmpeg stderr", e.Detail)
	}
	assertEmptyDir(t, dir)
}

func TestComposeDownloadFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	engine := NewEngine(runner, media.NewFetcher(nil), Options{TempDir: dir})

	inputs := testInputs(t)
	inputs[1] = media.Ref("http://127.0.0.1:1/unreachable.mp4")
	_, err := engine.Compose(context.Background(), OverlaySpec(1080, 1080, 720, 30, 5*time.Second), inputs)
	if !errors.Is(err, apperr.DownloadFailed) {
		t.Fatalf("err = %v, want DownloadFailed", err)
	}
	if runner.args != nil {
		t.Error("ffmpeg ran despite a failed input")
	}
	assertEmptyDir(t, dir)
}

func TestComposeRejectsMismatchedInputs(t *testing.T) {
	engine := NewEngine(&fakeRunner{}, media.NewFetcher(nil), Options{TempDir: t.TempDir()})
	_, err := engine.Compose(context.Background(), OverlaySpec(1080, 1080, 720, 30, 5*time.Second), testInputs(t)[:1])
	if !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestShortForegroundHeldToOutputDuration(t *testing.T) {
	spec := OverlaySpec(1080, 1080, 720, 30, 5*time.Second)
	args := buildArgs(spec, []input{
		{path: "base.png", still: true},
		{path: "fg-3s.mp4"},
	}, "out.mp4")

	assertContains(t, args, "-t", "5")
	assertContains(t, args, "-r", "30")
	assertContains(t, args, "-pix_fmt", "yuv420p")

	graph := argAfter(args, "-filter_complex")
	for _, want := range []string{
		"[1:v]scale=720:720:force_original_aspect_ratio=decrease,pad=720:720:(ow-iw)/2:(oh-ih)/2:black,pad=1080:1080",
		"tpad=stop_mode=clone:stop_duration=5",
		"[l0][l1]blend=all_mode=screen[c1]",
		"[c1]trim=duration=5,format=yuv420p[out]",
	} {
		if !strings.Contains(graph, want) {
			t.Errorf("filter graph missing %q:\n%s", want, graph)
		}
	}
	// The still base is looped, never padded in time.
	base := strings.Split(graph, ";")[0]
	if strings.Contains(base, "tpad") {
		t.Errorf("still base should not be tpadded: %s", base)
	}
	if i := indexOf(args, "base.png"); i < 7 || args[i-7] != "-loop" {
		t.Errorf("base image not looped: %v", args)
	}
}

func TestBuildArgsDeterministic(t *testing.T) {
	spec := OverlaySpec(1280, 720, 720, 24, 4*time.Second)
	in := []input{{path: "a.png", still: true}, {path: "b.mp4"}}
	first := buildArgs(spec, in, "o.mp4")
	for i := 0; i < 5; i++ {
		if got := buildArgs(spec, in, "o.mp4"); !reflect.DeepEqual(got, first) {
			t.Fatalf("buildArgs not deterministic:\n%v\n%v", first, got)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	good := OverlaySpec(1080, 1080, 720, 30, 5*time.Second)
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	tests := map[string]func(*CompositionSpec){
		"no layers":    func(s *CompositionSpec) { s.Layers = nil },
		"zero fps":     func(s *CompositionSpec) { s.FPS = 0 },
		"odd width":    func(s *CompositionSpec) { s.Width = 1081 },
		"no duration":  func(s *CompositionSpec) { s.Duration = 0 },
		"bad blend":    func(s *CompositionSpec) { s.Layers[1].Transform.Blend = "multiply-ish" },
		"square large": func(s *CompositionSpec) { s.Layers[1].Transform.Square = 4000 },
	}
	for name, mutate := range tests {
		s := OverlaySpec(1080, 1080, 720, 30, 5*time.Second)
		mutate(&s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil", name)
		}
	}
}

// TestComposeWithFFmpeg runs the real binary when available.
func TestComposeWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
	dir := t.TempDir()
	fg := filepath.Join(t.TempDir(), "fg.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=3:size=320x240:rate=30",
		"-pix_fmt", "yuv420p", "-y", fg)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("generate foreground: %v\n%s", err, out)
	}

	engine := NewEngine(nil, media.NewFetcher(nil), Options{TempDir: dir, Prober: &media.Prober{}})
	out, err := engine.Compose(context.Background(), OverlaySpec(320, 320, 240, 30, 5*time.Second), []*media.Asset{
		{Location: media.Inline, Data: pngBytes(t), MimeType: "image/png"},
		{Location: media.Local, URI: fg, MimeType: "video/mp4"},
	})
	if err != nil {
		t.Fatalf("Compose() = %v", err)
	}
	if d := out.Duration; d < 4900*time.Millisecond || d > 5100*time.Millisecond {
		t.Errorf("output duration = %s, want 5s", d)
	}
	if out.Width != 320 || out.Height != 320 {
		t.Errorf("output size = %dx%d", out.Width, out.Height)
	}
	assertEmptyDir(t, dir)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("temp file left behind: %s", e.Name())
	}
}

func assertContains(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return
		}
	}
	t.Errorf("expected %s %s in args: %v", flag, value, args)
}

func argAfter(args []string, flag string) string {
	if i := indexOf(args, flag); i >= 0 && i+1 < len(args) {
		return args[i+1]
	}
	return ""
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}
