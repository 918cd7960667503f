package worker

import (
	"errors"
	"fmt"

	"github.com/roach88/simrun/internal/demux"
	"github.com/roach88/simrun/internal/stream"
)

var (
	// ErrNoHeader means the engine closed its output before writing the
	// daily report header.
	ErrNoHeader = errors.New("engine wrote no header")

	// ErrMalformedHeader means the daily report header is unusable.
	ErrMalformedHeader = demux.ErrMalformedHeader

	// ErrEngineFailed means the engine exited with an error status or wrote
	// to stderr.
	ErrEngineFailed = errors.New("engine failed")

	// ErrExitStalled means the engine closed its output but did not exit
	// within the stall timeout. It matches stream.ErrStalled.
	ErrExitStalled = fmt.Errorf("%w: output closed but process kept running", stream.ErrStalled)
)

// IterationError is an iteration-fatal error. It records the state the
// worker was in when the iteration aborted.
type IterationError struct {
	Iteration int
	State     State
	Err       error
}

// Error implements the error interface.
func (e *IterationError) Error() string {
	return fmt.Sprintf("iteration %d aborted in %s: %v", e.Iteration, e.State, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IterationError) Unwrap() error {
	return e.Err
}

// AbortedIn returns the state an iteration aborted in, if err carries an
// IterationError. Uses errors.As to handle wrapped errors.
func AbortedIn(err error) (State, bool) {
	var ie *IterationError
	if errors.As(err, &ie) {
		return ie.State, true
	}
	return 0, false
}
