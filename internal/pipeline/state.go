package pipeline

import (
	"fmt"

	"github.com/fpang/holoscene/internal/store"
)

// State is a run's position in the pipeline.
type State string

const (
	StateStarted        State = "Started"
	StateImageRequested State = "ImageRequested"
	StateImageReady     State = "ImageReady"
	StateVideoRequested State = "VideoRequested"
	StateVideoReady     State = "VideoReady"
	StateComposited     State = "Composited"
	StatePersisted      State = "Persisted"
	StateErrored        State = "Errored"
)

// transitions lists the forward moves out of each state. Every
// non-terminal state may also move to Errored.
var transitions = map[State][]State{
	StateStarted:        {StateImageRequested, StateComposited, StatePersisted},
	StateImageRequested: {StateImageReady},
	StateImageReady:     {StateVideoRequested, StatePersisted},
	StateVideoRequested: {StateVideoReady},
	StateVideoReady:     {StateComposited, StatePersisted},
	StateComposited:     {StatePersisted},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateErrored
}

// canMove reports whether from → to is a legal transition.
func canMove(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateErrored {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionError is a programming error: the coordinator tried an
// illegal move.
type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("illegal run transition %s -> %s", e.from, e.to)
}

// RunStatus is a run record as seen by callers polling a run.
type RunStatus struct {
	Run   *store.Run
	State State
}
