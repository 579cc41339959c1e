package render

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/media"
)

// dirBundler creates a marker file in the bundle directory.
type dirBundler struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (b *dirBundler) Bundle(ctx context.Context, outDir string) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.fail {
		return errors.New("webpack exploded")
	}
	return os.WriteFile(filepath.Join(outDir, "index.html"), []byte("<html/>"), 0o644)
}

func TestBundleCacheReusesAndRebuilds(t *testing.T) {
	bundler := &dirBundler{}
	cache := NewBundleCache(bundler, t.TempDir())
	ctx := context.Background()

	first, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	second, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if first != second || cache.Builds() != 1 {
		t.Fatalf("second Get rebuilt: builds=%d", cache.Builds())
	}

	if err := os.RemoveAll(first.Path); err != nil {
		t.Fatal(err)
	}
	third, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get() after removal = %v", err)
	}
	if third.Path == first.Path || cache.Builds() != 2 {
		t.Errorf("bundle not rebuilt after its directory vanished")
	}
}

func TestBundleCacheConcurrentGet(t *testing.T) {
	cache := NewBundleCache(&dirBundler{}, t.TempDir())
	var wg sync.WaitGroup
	handles := make([]*BundleHandle, 8)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := cache.Get(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			handles[i] = h
		}()
	}
	wg.Wait()
	for _, h := range handles {
		if h == nil {
			continue
		}
		if _, err := os.Stat(h.Path); err != nil {
			t.Errorf("returned bundle %s does not exist", h.Path)
		}
	}
}

func TestBundleCacheFailure(t *testing.T) {
	parent := t.TempDir()
	cache := NewBundleCache(&dirBundler{fail: true}, parent)
	if _, err := cache.Get(context.Background()); !errors.Is(err, apperr.RenderFailed) {
		t.Fatalf("err = %v, want RenderFailed", err)
	}
	entries, _ := os.ReadDir(parent)
	if len(entries) != 0 {
		t.Errorf("failed bundle left %d entries", len(entries))
	}
}

func TestMediaHandlerAllowList(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"holo-in-123.mp4": "video",
		"secret.txt":      "nope",
		"props-9.json":    `{"texts":[` + strings.Repeat(`{"text":"hello"},`, 100) + `{"text":"end"}]}`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h, err := NewHandler(dir)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/media/holo-in-123.mp4", http.StatusOK},
		{"/media/secret.txt", http.StatusNotFound},
		{"/media/holo-missing.mp4", http.StatusNotFound},
		{"/media/..%2Fsecret.txt", http.StatusNotFound},
		{"/props/props-9.json", http.StatusOK},
		{"/props/holo-in-123.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/props/props-9.json", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("props not gzipped, headers: %v", resp.Header)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != files["props-9.json"] {
		t.Error("gzipped props body mismatch")
	}
}

// fakeRenderer writes the output file and captures props.
type fakeRenderer struct {
	args     []string
	props    props
	fetched  []byte
	fail     bool
	hangTill time.Duration
}

func (r *fakeRenderer) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	r.args = args
	if r.hangTill > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.hangTill):
		}
	}
	for _, a := range args {
		if p, ok := strings.CutPrefix(a, "--props="); ok {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &r.props); err != nil {
				return nil, err
			}
		}
	}
	if r.props.VideoURL != "" {
		resp, err := http.Get(r.props.VideoURL)
		if err != nil {
			return nil, err
		}
		r.fetched, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
	}
	if r.fail {
		return []byte("Error: composition crashed\n"), errors.New("exit status 1")
	}
	return nil, os.WriteFile(args[4], []byte("rendered-mp4"), 0o644)
}

func newTestBridge(t *testing.T, runner *fakeRenderer, opts Options) (*Bridge, string) {
	dir := t.TempDir()
	opts.TempDir = dir
	cache := NewBundleCache(&dirBundler{}, t.TempDir())
	return NewBridge(cache, runner, media.NewFetcher(nil), opts), dir
}

func baseRequest() *Request {
	return &Request{
		BaseVideo: &media.Asset{Location: media.Inline, Data: []byte("base-video"), MimeType: "video/mp4"},
		Texts:     []TextItem{{Text: "Happy birthday", Start: 0, End: 3}},
		Style:     Style{Font: "Orbitron", Color: "#66ccff"},
		Width:     1080, Height: 1080, FPS: 30, Duration: 5 * time.Second,
	}
}

func TestRenderServesMediaByURL(t *testing.T) {
	runner := &fakeRenderer{}
	bridge, dir := newTestBridge(t, runner, Options{Concurrency: 3})

	out, err := bridge.Render(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if string(out.Data) != "rendered-mp4" || out.MimeType != "video/mp4" {
		t.Errorf("output = %s", out)
	}
	if runner.args[3] != CompositionText {
		t.Errorf("composition = %q", runner.args[3])
	}
	if !strings.HasPrefix(runner.props.VideoURL, "http://127.0.0.1:") {
		t.Errorf("video passed as %q, want loopback URL", runner.props.VideoURL)
	}
	if !bytes.Equal(runner.fetched, []byte("base-video")) {
		t.Errorf("renderer fetched %q", runner.fetched)
	}
	if runner.props.DurationInFrame != 150 {
		t.Errorf("durationInFrames = %d, want 150", runner.props.DurationInFrame)
	}
	found := false
	for _, a := range runner.args {
		if a == "--concurrency=3" {
			found = true
		}
	}
	if !found {
		t.Errorf("concurrency flag missing: %v", runner.args)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		t.Errorf("render left %s behind", e.Name())
	}
}

func TestRenderFailureAndTimeout(t *testing.T) {
	bridge, dir := newTestBridge(t, &fakeRenderer{fail: true}, Options{})
	_, err := bridge.Render(context.Background(), baseRequest())
	if !errors.Is(err, apperr.RenderFailed) {
		t.Fatalf("err = %v, want RenderFailed", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed render left %d files", len(entries))
	}

	slow, _ := newTestBridge(t, &fakeRenderer{hangTill: time.Second}, Options{RenderTimeout: 50 * time.Millisecond})
	if _, err := slow.Render(context.Background(), baseRequest()); !errors.Is(err, apperr.Timeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
}

func TestRenderStagesRemoteMediaWithoutExtension(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/abc" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("remote-video"))
	}))
	defer cdn.Close()

	runner := &fakeRenderer{}
	bridge, _ := newTestBridge(t, runner, Options{})
	req := baseRequest()
	req.BaseVideo = media.Ref(cdn.URL + "/files/abc")

	if _, err := bridge.Render(context.Background(), req); err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if !strings.HasSuffix(runner.props.VideoURL, ".mp4") {
		t.Errorf("video staged as %q, want .mp4", runner.props.VideoURL)
	}
	if string(runner.fetched) != "remote-video" {
		t.Errorf("renderer fetched %q", runner.fetched)
	}
}

func TestRenderStagesLocalQuickTime(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.mov")
	if err := os.WriteFile(src, []byte("mov-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRenderer{}
	bridge, _ := newTestBridge(t, runner, Options{})
	req := baseRequest()
	req.BaseVideo = media.Ref(src)

	if _, err := bridge.Render(context.Background(), req); err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if !strings.HasSuffix(runner.props.VideoURL, ".mov") || string(runner.fetched) != "mov-bytes" {
		t.Errorf("video staged as %q, fetched %q", runner.props.VideoURL, runner.fetched)
	}
}

// slowBundler delays before producing a bundle.
type slowBundler struct {
	dirBundler
	delay time.Duration
}

func (b *slowBundler) Bundle(ctx context.Context, outDir string) error {
	time.Sleep(b.delay)
	return b.dirBundler.Bundle(ctx, outDir)
}

func TestRenderSetupSharesOneBudget(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("remote-video"))
	}))
	defer cdn.Close()

	cache := NewBundleCache(&slowBundler{delay: 200 * time.Millisecond}, t.TempDir())
	bridge := NewBridge(cache, &fakeRenderer{}, media.NewFetcher(nil), Options{
		TempDir:      t.TempDir(),
		SetupTimeout: 300 * time.Millisecond,
	})
	req := baseRequest()
	req.BaseVideo = media.Ref(cdn.URL + "/clip.mp4")

	if _, err := bridge.Render(context.Background(), req); !errors.Is(err, apperr.Timeout) {
		t.Fatalf("err = %v, want Timeout once bundling and staging exceed the setup budget", err)
	}
}

func TestMediaServerCloseReportsStuckConnections(t *testing.T) {
	server, err := StartMediaServer(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.Dial("tcp", strings.TrimPrefix(server.base, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// A request whose headers never finish keeps the connection busy.
	if _, err := conn.Write([]byte("GET /media/holo-a.mp4 HTTP/1.1\r\n")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := server.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() = %v, want deadline exceeded", err)
	}
}

func TestCompositionSelection(t *testing.T) {
	req := baseRequest()
	if got := req.Composition(); got != CompositionText {
		t.Errorf("single text = %s", got)
	}
	req.Texts = append(req.Texts, TextItem{Text: "again", Start: 3, End: 5})
	if got := req.Composition(); got != CompositionTextSequence {
		t.Errorf("two texts = %s", got)
	}
	req.OverlayImage = &media.Asset{Location: media.Inline, Data: []byte("png"), MimeType: "image/png"}
	if got := req.Composition(); got != CompositionTextWithImage {
		t.Errorf("with image = %s", got)
	}
}

func TestRequestValidate(t *testing.T) {
	req := baseRequest()
	req.Texts[0].End = 0
	if err := req.Validate(); err == nil {
		t.Error("inverted text window accepted")
	}
	req = baseRequest()
	req.BaseVideo = nil
	if err := req.Validate(); err == nil {
		t.Error("missing base video accepted")
	}
}

func TestServable(t *testing.T) {
	for name, want := range map[string]bool{
		"holo-in-1.mp4":   true,
		"holo-a_b.webp":   true,
		"holo-in-1.mov":   true,
		"holo-in-1.webm":  true,
		"holo-a.gif":      true,
		"holo-in-1.bin":   false,
		"props-77.json":   true,
		"holo-in-1.exe":   false,
		"../holo-1.mp4":   false,
		"props-1.json.gz": false,
	} {
		if got := Servable(name); got != want {
			t.Errorf("Servable(%q) = %v, want %v", name, got, want)
		}
	}
}
