package emitter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInterval is returned when an interval is zero or negative
	ErrInvalidInterval = errors.New("emitter: interval must be positive")

	// ErrInvalidEventLimit is returned when the event limit is zero
	ErrInvalidEventLimit = errors.New("emitter: max events must be at least 1")

	// ErrCallbackFailure matches every *CallbackError via errors.Is
	ErrCallbackFailure = errors.New("emitter: callback failure")

	// ErrNilCallback is returned when Emit is given a nil callback
	ErrNilCallback = errors.New("emitter: nil callback")

	// ErrZeroSettings is returned when a zero Settings value reaches the emitter.
	// Use NewSettings to obtain valid defaults.
	ErrZeroSettings = errors.New("emitter: settings not initialised")
)

// CallbackError is the termination error of a run whose callback failed
type CallbackError struct {
	Index uint64
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("emitter: callback failed at index %d: %v", e.Index, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Is reports ErrCallbackFailure as a match
func (e *CallbackError) Is(target error) bool {
	return target == ErrCallbackFailure
}
