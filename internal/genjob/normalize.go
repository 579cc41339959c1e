package genjob

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// payload is the union of every provider response field we understand.
type payload struct {
	RequestID   string `json:"request_id"`
	ID          string `json:"id"`
	JobID       string `json:"jobId"`
	StatusURL   string `json:"status_url"`
	StatusURLC  string `json:"statusUrl"`
	ResponseURL string `json:"response_url"`

	Status string `json:"status"`
	State  string `json:"state"`

	ImageURL  string          `json:"imageUrl"`
	VideoURL  string          `json:"videoUrl"`
	ResultURL string          `json:"resultUrl"`
	URL       string          `json:"url"`
	Output    json.RawMessage `json:"output"`
	Images    json.RawMessage `json:"images"`
	Image     json.RawMessage `json:"image"`
	Video     json.RawMessage `json:"video"`

	Error  json.RawMessage `json:"error"`
	Reason string          `json:"reason"`
	Detail json.RawMessage `json:"detail"`
}

type urlObject struct {
	URL string `json:"url"`
}

// shape is the response convention a payload follows.
type shape int

const (
	shapeUnknown shape = iota
	// shapeImmediate carries a terminal status, e.g. {status:"completed", imageUrl}.
	shapeImmediate
	// shapeEnvelope is a queued envelope, e.g. {request_id, status_url, status}.
	shapeEnvelope
	// shapeBare is only a resource id, e.g. {id}.
	shapeBare
)

func (p *payload) shape() shape {
	if st, ok := p.state(); ok && st.Terminal() {
		return shapeImmediate
	}
	if p.resultURL() != "" && p.statusText() == "" {
		return shapeImmediate
	}
	if p.statusURL() != "" || p.statusText() != "" {
		if p.id() != "" || p.statusURL() != "" {
			return shapeEnvelope
		}
	}
	if p.id() != "" {
		return shapeBare
	}
	return shapeUnknown
}

func (p *payload) id() string {
	for _, v := range []string{p.RequestID, p.JobID, p.ID} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *payload) statusURL() string {
	if p.StatusURL != "" {
		return p.StatusURL
	}
	return p.StatusURLC
}

func (p *payload) statusText() string {
	if p.Status != "" {
		return p.Status
	}
	return p.State
}

func (p *payload) state() (State, bool) {
	if s := p.statusText(); s != "" {
		return ParseState(s)
	}
	return "", false
}

func (p *payload) resultURL() string {
	for _, v := range []string{p.ImageURL, p.VideoURL, p.ResultURL, p.URL} {
		if v != "" {
			return v
		}
	}
	for _, raw := range []json.RawMessage{p.Video, p.Image, p.Images, p.Output} {
		if u := outputURL(raw); u != "" {
			return u
		}
	}
	return ""
}

// outputURL accepts "url", ["url", ...], {"url": ...} or [{"url": ...}, ...].
func outputURL(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0]
	}
	var obj urlObject
	if json.Unmarshal(raw, &obj) == nil {
		return obj.URL
	}
	var objs []urlObject
	if json.Unmarshal(raw, &objs) == nil && len(objs) > 0 {
		return objs[0].URL
	}
	return ""
}

func (p *payload) reason() string {
	if p.Reason != "" {
		return p.Reason
	}
	if r := messageText(p.Error); r != "" {
		return r
	}
	return messageText(p.Detail)
}

// messageText accepts "text" or {"message": "text"}.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}

// update converts a payload into a status observation. A payload that
// names no recognizable state but carries a result URL is Completed.
func (p *payload) update() Update {
	u := Update{ResponseURL: p.ResponseURL, Reason: p.reason()}
	if st, ok := p.state(); ok {
		u.State = st
	} else if p.resultURL() != "" {
		u.State = StateCompleted
	} else if p.statusText() != "" {
		u.State = StateInProgress
	}
	if u.State == StateCompleted {
		u.ResultURL = p.resultURL()
	}
	return u
}

func decodePayload(body []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse provider response: %w (body: %s)", err, truncate(string(body), 200))
	}
	return &p, nil
}

// normalizeSubmit turns a submit response into a GenerationJob.
func normalizeSubmit(kind Kind, body []byte, now time.Time) (*GenerationJob, error) {
	p, err := decodePayload(body)
	if err != nil {
		return nil, err
	}

	job := &GenerationJob{
		ID:          p.id(),
		Kind:        kind,
		StatusURL:   p.statusURL(),
		ResponseURL: p.ResponseURL,
		SubmittedAt: now,
		State:       StateQueued,
	}

	switch p.shape() {
	case shapeImmediate:
		job.Apply(p.update())
		if job.ID == "" {
			job.ID = "sync-" + now.UTC().Format("20060102T150405.000000000")
		}
		if job.State == StateCompleted && job.ResultURL == "" {
			return nil, fmt.Errorf("provider reported completion without a result url (body: %s)", truncate(string(body), 200))
		}
	case shapeEnvelope:
		if u := p.update(); u.State != "" {
			job.Apply(u)
		}
	case shapeBare:
	default:
		return nil, fmt.Errorf("unrecognized submit response (body: %s)", truncate(string(body), 200))
	}
	return job, nil
}

// normalizeStatus turns a status response into an Update.
func normalizeStatus(body []byte) (Update, error) {
	p, err := decodePayload(body)
	if err != nil {
		return Update{}, err
	}
	u := p.update()
	if u.State == "" {
		return Update{}, fmt.Errorf("status response carries no state (body: %s)", truncate(string(body), 200))
	}
	return u, nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
