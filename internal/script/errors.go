package script

import "errors"

var (
	// ErrStateClosed is returned when running on a closed state.
	ErrStateClosed = errors.New("script: state is closed")

	// ErrInterrupted is returned when a run is cancelled or times out.
	ErrInterrupted = errors.New("script: run interrupted")
)
