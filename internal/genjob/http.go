package genjob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
)

const (
	// defaultHTTPTimeout bounds a single submit or status request.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes caps provider response bodies.
	maxResponseBytes = 1 << 20
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	AuthScheme string // Authorization scheme, e.g. "Key" or "Bearer"
	ImageModel string
	VideoModel string
	Timeout    time.Duration
}

// HTTPProvider talks to a queue-style REST provider: POST {base}/{model}
// submits, GET on the returned status URL polls.
type HTTPProvider struct {
	httpClient *http.Client
	cfg        HTTPConfig
}

// NewHTTPProvider creates a REST provider client.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Key"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return "http" }

type submitBody struct {
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

// Submit implements Provider.
func (p *HTTPProvider) Submit(ctx context.Context, req Request) (*GenerationJob, error) {
	const op = "genjob.submit"
	model := req.Model
	if model == "" {
		model = p.cfg.ImageModel
		if req.Kind == KindVideo {
			model = p.cfg.VideoModel
		}
	}
	if model == "" {
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "no %s model configured", req.Kind)
	}

	payload, err := json.Marshal(submitBody{
		Prompt:      req.Prompt,
		ImageURL:    req.ReferenceImage,
		AspectRatio: req.AspectRatio,
		Duration:    req.DurationSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submit body: %w", err)
	}

	body, err := p.do(ctx, op, http.MethodPost, p.cfg.BaseURL+"/"+strings.TrimLeft(model, "/"), payload)
	if err != nil {
		return nil, err
	}
	job, err := normalizeSubmit(req.Kind, body, time.Now())
	if err != nil {
		return nil, apperr.New(apperr.KindProviderRejected, op, "unusable submit response", err)
	}
	job.Provider = p.Name()
	if job.StatusURL == "" && !job.State.Terminal() {
		job.StatusURL = p.cfg.BaseURL + "/" + strings.TrimLeft(model, "/") + "/requests/" + job.ID + "/status"
	}
	return job, nil
}

// Status implements Provider. A completed status without a result URL is
// resolved by fetching the job's response URL.
func (p *HTTPProvider) Status(ctx context.Context, job *GenerationJob) (Update, error) {
	const op = "genjob.status"
	body, err := p.do(ctx, op, http.MethodGet, job.StatusURL, nil)
	if err != nil {
		return Update{}, err
	}
	u, err := normalizeStatus(body)
	if err != nil {
		return Update{}, apperr.New(apperr.KindProviderUnavailable, op, "unusable status response", err)
	}
	if u.State != StateCompleted || u.ResultURL != "" {
		return u, nil
	}

	responseURL := u.ResponseURL
	if responseURL == "" {
		responseURL = job.ResponseURL
	}
	if responseURL == "" {
		return Update{State: StateFailed, Reason: "provider reported completion without a result"}, nil
	}
	body, err = p.do(ctx, op, http.MethodGet, responseURL, nil)
	if err != nil {
		return Update{}, err
	}
	result, err := decodePayload(body)
	if err != nil {
		return Update{}, apperr.New(apperr.KindProviderUnavailable, op, "unusable result response", err)
	}
	if u.ResultURL = result.resultURL(); u.ResultURL == "" {
		return Update{State: StateFailed, Reason: "result response carries no media url"}, nil
	}
	return u, nil
}

// do performs one request and returns the body of a 2xx response.
func (p *HTTPProvider) do(ctx context.Context, op, method, url string, payload []byte) ([]byte, error) {
	startTime := time.Now()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, op, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", p.cfg.AuthScheme+" "+p.cfg.APIKey)
	}

	log.Debug().Str("method", method).Str("url", url).Msg("Provider API request")
	resp, err := p.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Provider API response")
		if ctx.Err() != nil {
			return nil, apperr.FromContext(op, ctx.Err())
		}
		return nil, apperr.New(apperr.KindProviderUnavailable, op, "request failed", err)
	}
	defer resp.Body.Close()
	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", duration).Msg("Provider API response")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.New(apperr.KindProviderUnavailable, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("statusCode", resp.StatusCode).Str("body", truncate(string(body), 200)).Msg("Provider API error")
		return nil, &apperr.Error{
			Kind:       apperr.KindProviderRejected,
			Op:         op,
			Message:    fmt.Sprintf("status %d", resp.StatusCode),
			Detail:     truncate(strings.TrimSpace(string(body)), 200),
			StatusCode: resp.StatusCode,
		}
	}
	return body, nil
}
