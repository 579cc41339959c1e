// Package genjob submits work to generative-media providers and polls the
// resulting asynchronous jobs to a terminal state.
//
// Providers disagree on response shapes: some answer a submit with a queued
// envelope carrying a status URL, some with a bare resource id, and some
// complete synchronously. All of them are normalized into a GenerationJob
// at this boundary so the rest of the pipeline sees a single model.
package genjob

import (
	"strings"
	"time"
)

// Kind is the type of media a job produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued         State = "queued"
	StateInProgress     State = "in_progress"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateContentBlocked State = "content_blocked"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateContentBlocked
}

// ParseState maps a provider status string onto a State. Unknown values
// return ok=false and are treated as still in progress by callers.
func ParseState(s string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "in_queue", "pending", "starting", "submitted":
		return StateQueued, true
	case "in_progress", "processing", "running", "generating":
		return StateInProgress, true
	case "completed", "complete", "succeeded", "success", "done", "ok":
		return StateCompleted, true
	case "failed", "failure", "error", "canceled", "cancelled":
		return StateFailed, true
	case "content-blocked", "content_blocked", "blocked", "nsfw", "content_policy", "content_policy_violation", "safety":
		return StateContentBlocked, true
	}
	return "", false
}

// Request is a generation request.
type Request struct {
	Kind   Kind
	Prompt string
	// ReferenceImage is a URL or data: URI; video jobs reference the image
	// produced by the preceding image job.
	ReferenceImage string
	AspectRatio    string
	// DurationSeconds applies to video jobs.
	DurationSeconds int
	// Model overrides the provider's default model for this kind.
	Model string
}

// GenerationJob is one submitted provider job. It is owned by the
// coordinator invocation that created it and is not shared.
type GenerationJob struct {
	ID          string
	Kind        Kind
	Provider    string
	StatusURL   string
	ResponseURL string
	SubmittedAt time.Time
	State       State
	ResultURL   string
	// OriginURL is the provider's own URL for the result when ResultURL
	// carries the bytes inline.
	OriginURL string
	Reason    string
}

// Update is one observation of a job's status.
type Update struct {
	State       State
	ResultURL   string
	OriginURL   string
	ResponseURL string
	Reason      string
}

// Apply records an observed update. Once the job is terminal every later
// update is ignored; Apply reports whether the job changed.
func (j *GenerationJob) Apply(u Update) bool {
	if j.State.Terminal() || u.State == "" {
		return false
	}
	changed := j.State != u.State
	j.State = u.State
	if u.ResultURL != "" {
		j.ResultURL = u.ResultURL
		changed = true
	}
	if u.OriginURL != "" {
		j.OriginURL = u.OriginURL
	}
	if u.ResponseURL != "" {
		j.ResponseURL = u.ResponseURL
	}
	if u.Reason != "" {
		j.Reason = u.Reason
	}
	return changed
}

// TerminalResult is the outcome of polling a job to completion.
type TerminalResult struct {
	Job     *GenerationJob
	URL     string
	Polls   int
	Elapsed time.Duration
}
