// Package apperr defines the failure taxonomy shared by every pipeline stage.
//
// Each stage returns an *Error tagged with a Kind. The coordinator maps the
// Kind onto its Errored state, and Describe turns any error (typed or not)
// into a user-facing category and message so callers never see raw
// provider output or stack traces.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a class of pipeline failure.
type Kind string

const (
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderRejected    Kind = "provider_rejected"
	KindDownloadFailed      Kind = "download_failed"
	KindTimeout             Kind = "timeout"
	KindGenerationFailed    Kind = "generation_failed"
	KindContentPolicy       Kind = "content_policy_violation"
	KindCompositingFailed   Kind = "compositing_failed"
	KindRenderFailed        Kind = "render_failed"
	KindPersistFailed       Kind = "persist_failed"
	KindInvalidInput        Kind = "invalid_input"
	KindInternal            Kind = "internal"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "genjob.submit".
	Op      string
	Message string
	// Detail carries diagnostic text such as subprocess stderr or a
	// provider's failure reason. It is surfaced verbatim for
	// GenerationFailed and ContentPolicy.
	Detail string
	// StatusCode is the HTTP status for provider/download failures, if any.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, apperr.Timeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ProviderRejected    = &Error{Kind: KindProviderRejected}
	DownloadFailed      = &Error{Kind: KindDownloadFailed}
	Timeout             = &Error{Kind: KindTimeout}
	GenerationFailed    = &Error{Kind: KindGenerationFailed}
	ContentPolicy       = &Error{Kind: KindContentPolicy}
	CompositingFailed   = &Error{Kind: KindCompositingFailed}
	RenderFailed        = &Error{Kind: KindRenderFailed}
	PersistFailed       = &Error{Kind: KindPersistFailed}
	InvalidInput        = &Error{Kind: KindInvalidInput}
)

// New builds a classified error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Newf builds a classified error with a formatted message and no cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// FromContext converts a context failure into a Timeout error. A parent
// cancellation that is not a deadline is still reported as Timeout because
// the stage did not finish inside its budget.
func FromContext(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, op, "deadline exceeded", err)
	}
	return New(KindTimeout, op, "cancelled", err)
}

// KindOf returns the Kind of the first *Error in err's chain. Untyped
// context deadline errors are reported as KindTimeout; anything else is
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether the whole stage may be re-run by the caller.
// Only transport-level failures qualify: rejections, generation failures
// and content-policy blocks are final.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderUnavailable, KindDownloadFailed:
		return true
	default:
		return false
	}
}
