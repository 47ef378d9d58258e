package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPhaseAction is an action submitted outside its legal phase.
	ErrInvalidPhaseAction = errors.New("invalid phase action")
	// ErrInvalidTarget is an action aimed at an illegal target.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrInvalidActor is an action by a player who cannot perform it.
	ErrInvalidActor = errors.New("invalid actor")
	// ErrReplayDivergence means replaying the log did not rebuild the live state.
	ErrReplayDivergence = errors.New("replay divergence")
	// ErrGameFinished is returned for operations on a finished game.
	ErrGameFinished = errors.New("game finished")
	// ErrNotSetUp is returned when a game is run before Setup.
	ErrNotSetUp = errors.New("game not set up")
	// ErrGameNotFound is returned by the registry.
	ErrGameNotFound = errors.New("game not found")
)

// Rejection codes recorded in ACTION_REJECTED events.
const (
	CodeInvalidPhase  = "INVALID_PHASE_ACTION"
	CodeInvalidTarget = "INVALID_TARGET"
	CodeInvalidActor  = "INVALID_ACTOR"
)

// ActionError describes a rejected submission.
type ActionError struct {
	Code   string
	Reason string
	err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.err, e.Reason)
}

func (e *ActionError) Unwrap() error { return e.err }

func phaseError(format string, args ...any) *ActionError {
	return &ActionError{Code: CodeInvalidPhase, Reason: fmt.Sprintf(format, args...), err: ErrInvalidPhaseAction}
}

func targetError(format string, args ...any) *ActionError {
	return &ActionError{Code: CodeInvalidTarget, Reason: fmt.Sprintf(format, args...), err: ErrInvalidTarget}
}

func actorError(format string, args ...any) *ActionError {
	return &ActionError{Code: CodeInvalidActor, Reason: fmt.Sprintf(format, args...), err: ErrInvalidActor}
}

// DivergenceError names the first field where live and replayed state differ.
type DivergenceError struct {
	Sequence uint64
	Field    string
	Live     string
	Replayed string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s at seq %d: %s live=%s replayed=%s", ErrReplayDivergence, e.Sequence, e.Field, e.Live, e.Replayed)
}

func (e *DivergenceError) Unwrap() error { return ErrReplayDivergence }
