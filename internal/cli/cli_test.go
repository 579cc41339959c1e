package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/holoscene/internal/pipeline"
	"github.com/fpang/holoscene/internal/store"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{8 * time.Second, "0:08"},
		{95 * time.Second, "1:35"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPromptFor(t *testing.T) {
	var out bytes.Buffer
	if got := PromptFor(strings.NewReader("a neon koi\n"), &out, "Prompt", ""); got != "a neon koi" {
		t.Errorf("PromptFor() = %q", got)
	}
	if !strings.Contains(out.String(), "Prompt: ") {
		t.Errorf("prompt text = %q", out.String())
	}

	out.Reset()
	if got := PromptFor(strings.NewReader("\n"), &out, "Aspect", "9:16"); got != "9:16" {
		t.Errorf("PromptFor() with empty input = %q, want default", got)
	}
	if got := PromptFor(strings.NewReader(""), &out, "Aspect", "1:1"); got != "1:1" {
		t.Errorf("PromptFor() at EOF = %q, want default", got)
	}
}

func TestResolveMediaRef(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bg.png")
	if err := os.WriteFile(file, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{"", "https://cdn.example/a.mp4", "s3://bucket/key.png", "data:image/png;base64,AA=="} {
		got, err := ResolveMediaRef(ref)
		if err != nil || got != ref {
			t.Errorf("ResolveMediaRef(%q) = %q, %v", ref, got, err)
		}
	}

	got, err := ResolveMediaRef(file)
	if err != nil || got != file {
		t.Errorf("ResolveMediaRef(file) = %q, %v", got, err)
	}
	if _, err := ResolveMediaRef(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := ResolveMediaRef(dir); err == nil {
		t.Error("directory accepted")
	}
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	PrintResult(&out, &pipeline.Result{
		RunID:    "run-1",
		State:    pipeline.StatePersisted,
		VideoURL: "https://provider.example/v.mp4",
		Elapsed:  75 * time.Second,
		Artifact: &store.Artifact{ID: "art-1", DurableURL: "https://cdn.example/u1/art-1.mp4", Degraded: true},
	})
	for _, want := range []string{"run-1", "1:15", "https://cdn.example/u1/art-1.mp4", "upload failed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintRun(t *testing.T) {
	var out bytes.Buffer
	PrintRun(&out, &pipeline.RunStatus{
		State: pipeline.StateErrored,
		Run: &store.Run{
			ID:           "run-2",
			Operation:    "video",
			OwnerID:      "u1",
			ErrorKind:    "content_policy_violation",
			ErrorMessage: "blocked",
			History: []store.Transition{
				{State: "Started", At: 0},
				{State: "Errored", At: 1000, Detail: "blocked"},
			},
		},
	})
	for _, want := range []string{"run-2", "Errored", "content_policy_violation: blocked", "1970-01-01T00:00:01Z"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
