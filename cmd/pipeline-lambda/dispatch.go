package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/pipeline"
	"github.com/fpang/holoscene/internal/store"
)

// Coordinator is the subset of *pipeline.Coordinator the handler drives.
type Coordinator interface {
	GenerateImage(ctx context.Context, req pipeline.ImageRequest) (*pipeline.Result, error)
	GenerateVideo(ctx context.Context, req pipeline.VideoRequest) (*pipeline.Result, error)
	CompositeOverlay(ctx context.Context, req pipeline.CompositeRequest) (*pipeline.Result, error)
	RenderTextOverlay(ctx context.Context, req pipeline.RenderRequest) (*pipeline.Result, error)
	GetRun(ctx context.Context, id string) (*pipeline.RunStatus, error)
}

// Event carries the dispatch fields shared by every request type.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"runId,omitempty"`
}

// Response is returned for every invocation. Pipeline failures are
// reported in the body, not as Lambda errors, so callers always receive
// the run id and a user-facing message.
type Response struct {
	Status     string          `json:"status"` // "ok", "failed" or "not_found"
	RunID      string          `json:"runId,omitempty"`
	State      string          `json:"state,omitempty"`
	URL        string          `json:"url,omitempty"`
	ArtifactID string          `json:"artifactId,omitempty"`
	Duplicate  bool            `json:"duplicate,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"`
	ImageURL   string          `json:"imageUrl,omitempty"`
	VideoURL   string          `json:"videoUrl,omitempty"`
	ElapsedMs  int64           `json:"elapsedMs,omitempty"`
	ErrorKind  string          `json:"errorKind,omitempty"`
	Category   apperr.Category `json:"category,omitempty"`
	Message    string          `json:"message,omitempty"`
	Run        *store.Run      `json:"run,omitempty"`
}

func dispatch(ctx context.Context, coord Coordinator, raw json.RawMessage) (*Response, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	log.Info().Str("type", event.Type).Msg("Pipeline event received")

	var (
		res *pipeline.Result
		err error
	)
	switch event.Type {
	case pipeline.OpImage:
		var req pipeline.ImageRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode image request: %w", err)
		}
		res, err = coord.GenerateImage(ctx, req)
	case pipeline.OpVideo:
		var req pipeline.VideoRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode video request: %w", err)
		}
		res, err = coord.GenerateVideo(ctx, req)
	case pipeline.OpComposite:
		var req pipeline.CompositeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode composite request: %w", err)
		}
		res, err = coord.CompositeOverlay(ctx, req)
	case pipeline.OpRender:
		var req pipeline.RenderRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode render request: %w", err)
		}
		res, err = coord.RenderTextOverlay(ctx, req)
	case "status":
		return status(ctx, coord, event.RunID)
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}

	if err != nil {
		var f *pipeline.Failure
		if !errors.As(err, &f) {
			return nil, err
		}
		log.Error().Err(f.Err).Str("runId", f.RunID).Str("kind", string(f.Kind)).Msg("Pipeline run failed")
		return &Response{
			Status:    "failed",
			RunID:     f.RunID,
			State:     string(pipeline.StateErrored),
			ErrorKind: string(f.Kind),
			Category:  f.Category,
			Message:   f.Message,
		}, nil
	}
	return okResponse(res), nil
}

func okResponse(res *pipeline.Result) *Response {
	resp := &Response{
		Status:    "ok",
		RunID:     res.RunID,
		State:     string(res.State),
		URL:       res.DurableURL(),
		ImageURL:  res.ImageURL,
		VideoURL:  res.VideoURL,
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
	if a := res.Artifact; a != nil {
		resp.ArtifactID = a.ID
		resp.Duplicate = a.IsDuplicate
		resp.Degraded = a.Degraded
	}
	return resp
}

func status(ctx context.Context, coord Coordinator, runID string) (*Response, error) {
	if runID == "" {
		return nil, errors.New("status event requires runId")
	}
	st, err := coord.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	if st == nil {
		return &Response{Status: "not_found", RunID: runID}, nil
	}
	return &Response{
		Status:    "ok",
		RunID:     runID,
		State:     string(st.State),
		URL:       st.Run.ResultURL,
		ErrorKind: st.Run.ErrorKind,
		Message:   st.Run.ErrorMessage,
		Run:       st.Run,
	}, nil
}
