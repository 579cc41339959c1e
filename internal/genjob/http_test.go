package genjob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fpang/holoscene/internal/apperr"
)

func newTestProvider(server *httptest.Server) *HTTPProvider {
	p := NewHTTPProvider(HTTPConfig{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		ImageModel: "img-model",
		VideoModel: "vid-model",
	})
	p.httpClient = server.Client()
	return p
}

func TestHTTPSubmitEnvelopeAndPoll(t *testing.T) {
	var server *httptest.Server
	statusCalls := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Key test-key" {
			t.Errorf("Authorization = %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/vid-model":
			var body submitBody
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode submit body: %v", err)
			}
			if body.ImageURL != "https://cdn.example/ref.png" || body.Duration != 5 {
				t.Errorf("unexpected submit body: %+v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"request_id":   "req-9",
				"status":       "IN_QUEUE",
				"status_url":   server.URL + "/requests/req-9/status",
				"response_url": server.URL + "/requests/req-9",
			})
		case r.URL.Path == "/requests/req-9/status":
			statusCalls++
			status := "IN_PROGRESS"
			if statusCalls >= 2 {
				status = "COMPLETED"
			}
			json.NewEncoder(w).Encode(map[string]string{"status": status})
		case r.URL.Path == "/requests/req-9":
			w.Write([]byte(`{"video":{"url":"https://cdn.example/out.mp4"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(newTestProvider(server))
	ctx := context.Background()
	job, err := client.Submit(ctx, Request{
		Kind:            KindVideo,
		Prompt:          "a glowing hologram",
		ReferenceImage:  "https://cdn.example/ref.png",
		DurationSeconds: 5,
	})
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if job.ID != "req-9" || job.State != StateQueued || job.Provider != "http" {
		t.Fatalf("job = %+v", job)
	}

	res, err := client.PollUntilTerminal(ctx, job, 5*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilTerminal() = %v", err)
	}
	if res.URL != "https://cdn.example/out.mp4" {
		t.Errorf("URL = %q", res.URL)
	}
	if statusCalls != 2 {
		t.Errorf("status calls = %d, want 2", statusCalls)
	}
}

func TestHTTPSubmitBareIDBuildsStatusURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img-model":
			w.Write([]byte(`{"id":"abc"}`))
		case "/img-model/requests/abc/status":
			w.Write([]byte(`{"status":"completed","imageUrl":"https://cdn.example/abc.png"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(newTestProvider(server))
	job, err := client.Submit(context.Background(), Request{Kind: KindImage, Prompt: "p"})
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if job.StatusURL != server.URL+"/img-model/requests/abc/status" {
		t.Errorf("StatusURL = %q", job.StatusURL)
	}
	res, err := client.PollUntilTerminal(context.Background(), job, time.Second, time.Millisecond)
	if err != nil || res.URL != "https://cdn.example/abc.png" {
		t.Fatalf("poll = %+v, %v", res, err)
	}
}

func TestHTTPSubmitErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"prompt too long"}`))
	}))
	p := newTestProvider(server)

	_, err := p.Submit(context.Background(), Request{Kind: KindImage, Prompt: "p"})
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind != apperr.KindProviderRejected || e.StatusCode != 422 {
		t.Fatalf("err = %v, want ProviderRejected 422", err)
	}
	if apperr.Retryable(err) {
		t.Error("ProviderRejected reported retryable")
	}

	badGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer badGateway.Close()
	_, err = newTestProvider(badGateway).Submit(context.Background(), Request{Kind: KindImage, Prompt: "p"})
	if !errors.As(err, &e) || e.Kind != apperr.KindProviderRejected || e.StatusCode != 502 {
		t.Fatalf("err = %v, want ProviderRejected 502", err)
	}

	server.Close()
	_, err = p.Submit(context.Background(), Request{Kind: KindImage, Prompt: "p"})
	if !errors.Is(err, apperr.ProviderUnavailable) {
		t.Fatalf("err after close = %v, want ProviderUnavailable", err)
	}
	if !apperr.Retryable(err) {
		t.Error("ProviderUnavailable reported non-retryable")
	}
}

func TestHTTPSubmitImmediateNSFW(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"nsfw"}`))
	}))
	defer server.Close()

	client := NewClient(newTestProvider(server))
	job, err := client.Submit(context.Background(), Request{Kind: KindVideo, Prompt: "p"})
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	_, err = client.PollUntilTerminal(context.Background(), job, time.Second, time.Millisecond)
	if !errors.Is(err, apperr.ContentPolicy) {
		t.Fatalf("err = %v, want ContentPolicy", err)
	}
}
