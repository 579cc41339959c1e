package genjob

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/metrics"
)

// DefaultPollInterval is used when a caller passes a non-positive interval.
const DefaultPollInterval = 2 * time.Second

// Client drives one provider: it submits requests and polls the resulting
// jobs to a terminal state.
type Client struct {
	provider Provider
}

// NewClient wraps a provider.
func NewClient(p Provider) *Client {
	return &Client{provider: p}
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider { return c.provider }

// Submit starts a job.
func (c *Client) Submit(ctx context.Context, req Request) (*GenerationJob, error) {
	start := time.Now()
	rec := metrics.ForStage("submit").
		Dimension("Provider", c.provider.Name()).
		Dimension("Kind", string(req.Kind))
	defer rec.Flush()

	job, err := c.provider.Submit(ctx, req)
	rec.Duration("SubmitLatency", time.Since(start))
	if err != nil {
		rec.Count("SubmitError").Property("errorKind", string(apperr.KindOf(err)))
		return nil, err
	}
	rec.Count("SubmitOK")

	log.Info().
		Str("jobId", job.ID).
		Str("kind", string(job.Kind)).
		Str("provider", job.Provider).
		Str("state", string(job.State)).
		Dur("duration", time.Since(start)).
		Msg("Generation job submitted")
	return job, nil
}

// PollUntilTerminal fetches the job's status every interval until it is
// Completed, Failed or ContentBlocked, or until maxWait elapses.
//
// A job that is already terminal returns without any fetch. Transient
// poll failures are logged and retried on the next tick. Completed yields
// the result URL; Failed yields GenerationFailed carrying the provider's
// reason; ContentBlocked yields ContentPolicy. If maxWait elapses while the
// job is still non-terminal the error is Timeout.
func (c *Client) PollUntilTerminal(ctx context.Context, job *GenerationJob, maxWait, interval time.Duration) (*TerminalResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	start := time.Now()
	deadline := start.Add(maxWait)
	res := &TerminalResult{Job: job}

	rec := metrics.ForStage("poll").
		Dimension("Provider", c.provider.Name()).
		Dimension("Kind", string(job.Kind))
	defer func() {
		rec.Metric("Polls", float64(res.Polls), metrics.UnitCount).
			Duration("PollLatency", time.Since(start)).
			Property("jobId", job.ID).
			Property("state", string(job.State)).
			Flush()
	}()

	for !job.State.Terminal() {
		res.Polls++
		u, err := c.provider.Status(ctx, job)
		switch {
		case err == nil:
			if job.Apply(u) {
				log.Debug().Str("jobId", job.ID).Str("state", string(job.State)).Int("poll", res.Polls).Msg("Job state changed")
			}
			if job.State.Terminal() {
				continue
			}
		case ctx.Err() != nil:
			res.Elapsed = time.Since(start)
			return res, apperr.FromContext("genjob.poll", ctx.Err())
		case skippable(err):
			log.Warn().Err(err).Str("jobId", job.ID).Int("poll", res.Polls).Msg("Job status poll error, retrying")
		default:
			res.Elapsed = time.Since(start)
			return res, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.Elapsed = time.Since(start)
			log.Warn().Str("jobId", job.ID).Str("state", string(job.State)).Dur("maxWait", maxWait).Msg("Job did not finish in time")
			return res, &apperr.Error{
				Kind:    apperr.KindTimeout,
				Op:      "genjob.poll",
				Message: "job still " + string(job.State) + " after " + maxWait.String(),
				Detail:  job.ID,
			}
		}

		wait := min(interval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Elapsed = time.Since(start)
			return res, apperr.FromContext("genjob.poll", ctx.Err())
		case <-timer.C:
		}
	}

	res.Elapsed = time.Since(start)
	return res, terminalOutcome(res)
}

// terminalOutcome converts a terminal job into its URL or error.
func terminalOutcome(res *TerminalResult) error {
	job := res.Job
	switch job.State {
	case StateCompleted:
		res.URL = job.ResultURL
		log.Info().Str("jobId", job.ID).Int("polls", res.Polls).Dur("elapsed", res.Elapsed).Msg("Generation job completed")
		return nil
	case StateContentBlocked:
		log.Warn().Str("jobId", job.ID).Str("reason", job.Reason).Msg("Generation job blocked by content policy")
		return &apperr.Error{Kind: apperr.KindContentPolicy, Op: "genjob.poll", Message: "content blocked by provider", Detail: job.Reason}
	default:
		log.Warn().Str("jobId", job.ID).Str("reason", job.Reason).Msg("Generation job failed")
		return &apperr.Error{Kind: apperr.KindGenerationFailed, Op: "genjob.poll", Message: "provider reported failure", Detail: job.Reason}
	}
}

// skippable reports whether a status error is worth another tick:
// transport failures, throttling, server errors and not-yet-visible jobs.
func skippable(err error) bool {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case apperr.KindProviderUnavailable:
		return true
	case apperr.KindProviderRejected:
		return e.StatusCode == 404 || e.StatusCode == 429 || e.StatusCode >= 500
	}
	return false
}
