package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("stage: %w", New(KindTimeout, "genjob.poll", "job still running", nil))
	if !errors.Is(err, Timeout) {
		t.Fatalf("expected errors.Is(err, Timeout) to be true")
	}
	if errors.Is(err, ContentPolicy) {
		t.Fatalf("timeout should not match ContentPolicy")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", New(KindGenerationFailed, "op", "", nil), KindGenerationFailed},
		{"wrapped", fmt.Errorf("x: %w", New(KindContentPolicy, "op", "", nil)), KindContentPolicy},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindProviderUnavailable, "op", "", nil)) {
		t.Error("ProviderUnavailable should be retryable")
	}
	if Retryable(New(KindProviderRejected, "op", "", nil)) {
		t.Error("ProviderRejected should not be retryable")
	}
	if Retryable(New(KindContentPolicy, "op", "", nil)) {
		t.Error("ContentPolicy must never be retryable")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"content policy kind", New(KindContentPolicy, "op", "", nil), CategoryContentPolicy},
		{"timeout kind", New(KindTimeout, "op", "", nil), CategoryTimeout},
		{"rejected 429", &Error{Kind: KindProviderRejected, StatusCode: 429}, CategoryQuota},
		{"genai 429 pointer", &genai.APIError{Code: 429, Message: "slow down"}, CategoryQuota},
		{"nsfw text", errors.New("provider said nsfw"), CategoryContentPolicy},
		{"quota text", errors.New("RESOURCE_EXHAUSTED: quota exceeded"), CategoryQuota},
		{"timeout text", errors.New("request timed out"), CategoryTimeout},
		{"other", errors.New("disk full"), CategoryGeneric},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, msg := Describe(tc.err)
			if got != tc.want {
				t.Errorf("Describe category = %q, want %q", got, tc.want)
			}
			if msg == "" {
				t.Error("expected a user-facing message")
			}
		})
	}
}
