package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
	"github.com/fpang/holoscene/internal/store"
)

// run tracks one coordinator invocation and mirrors every transition to
// the run record. Record writes are best effort: a store outage must not
// fail a run that is otherwise succeeding.
type run struct {
	record  *store.Run
	state   State
	records store.ArtifactStore
	logger  zerolog.Logger
	started time.Time
	now     func() time.Time
}

func newRun(ctx context.Context, records store.ArtifactStore, id, operation, ownerID string, now func() time.Time) *run {
	r := &run{
		record: &store.Run{
			ID:        id,
			Operation: operation,
			OwnerID:   ownerID,
		},
		records: records,
		logger:  log.With().Str("runId", id).Str("operation", operation).Logger(),
		started: now(),
		now:     now,
	}
	r.state = StateStarted
	r.record.State = string(StateStarted)
	r.record.History = append(r.record.History, store.Transition{State: string(StateStarted), At: r.started.UnixMilli()})
	r.save(ctx)
	r.logger.Info().Str("ownerId", ownerID).Msg("Pipeline run started")
	return r
}

// advance moves the run to state. detail is recorded in the history,
// with data: URIs redacted.
func (r *run) advance(ctx context.Context, to State, detail string) error {
	if !canMove(r.state, to) {
		return apperr.New(apperr.KindInternal, "pipeline.advance", "", &transitionError{from: r.state, to: to})
	}
	detail = redactURL(detail)
	r.state = to
	r.record.State = string(to)
	r.record.History = append(r.record.History, store.Transition{State: string(to), At: r.now().UnixMilli(), Detail: detail})
	r.save(ctx)
	r.logger.Info().
		Str("stage", string(to)).
		Str("detail", detail).
		Dur("elapsed", r.now().Sub(r.started)).
		Msg("Pipeline run advanced")
	return nil
}

// fail moves the run to Errored(kind) and returns err unchanged. A run
// already in a terminal state is left as is.
func (r *run) fail(ctx context.Context, err error) error {
	if r.state.Terminal() {
		return err
	}
	kind := apperr.KindOf(err)
	_, message := apperr.Describe(err)
	r.state = StateErrored
	r.record.State = string(StateErrored)
	r.record.ErrorKind = string(kind)
	r.record.ErrorMessage = message
	r.record.History = append(r.record.History, store.Transition{State: string(StateErrored), At: r.now().UnixMilli(), Detail: string(kind)})
	r.save(ctx)
	r.logger.Error().
		Err(err).
		Str("errorKind", string(kind)).
		Dur("elapsed", r.now().Sub(r.started)).
		Msg("Pipeline run failed")
	return err
}

// save writes the record under its own short deadline so a run that
// failed on Timeout still records Errored.
func (r *run) save(ctx context.Context) {
	if r.records == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.records.PutRun(saveCtx, r.record); err != nil {
		r.logger.Warn().Err(err).Str("state", r.record.State).Msg("Failed to write run record")
	}
}

// redactURL keeps inline payloads out of records and logs.
func redactURL(u string) string {
	if !strings.HasPrefix(u, "data:") {
		return u
	}
	header, _, found := strings.Cut(u, ",")
	if !found {
		return "data:<redacted>"
	}
	return header + ",<" + strconv.Itoa(len(u)-len(header)-1) + " bytes redacted>"
}
