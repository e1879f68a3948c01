package usecase

import (
	"fmt"
	"log/slog"
)

// State is a pipeline run stage.
type State string

const (
	StateStart         State = "start"
	StateSegmenting    State = "segmenting"
	StatePairing       State = "pairing"
	StateRunning       State = "running"
	StateConcatenating State = "concatenating"
	StateDone          State = "done"
	StateAborted       State = "aborted"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// isValidTransition enforces the run state machine edges. Aborted is
// reachable from every non-terminal state.
func isValidTransition(from, to State) bool {
	if to == StateAborted {
		return !from.Terminal()
	}
	switch from {
	case StateStart:
		return to == StateSegmenting
	case StateSegmenting:
		return to == StatePairing
	case StatePairing:
		return to == StateRunning
	case StateRunning:
		return to == StateConcatenating
	case StateConcatenating:
		return to == StateDone
	default:
		return false
	}
}

type machine struct {
	current State
	history []State
	log     *slog.Logger
}

func newMachine(log *slog.Logger) *machine {
	return &machine{current: StateStart, history: []State{StateStart}, log: log}
}

func (m *machine) to(next State) error {
	if !isValidTransition(m.current, next) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current, next)
	}
	m.log.Debug("state transition", slog.String("from", string(m.current)), slog.String("to", string(next)))
	m.current = next
	m.history = append(m.history, next)
	return nil
}

func (m *machine) History() []State {
	return append([]State(nil), m.history...)
}
