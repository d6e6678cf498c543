package emitter

import (
	"time"
)

// Reason records why an emission run terminated
type Reason string

const (
	ReasonLimitReached   Reason = "LimitReached"
	ReasonCancelled      Reason = "Cancelled"
	ReasonCallbackFailed Reason = "CallbackFailed"
)

// EmissionContext is handed to the callback on every tick
type EmissionContext struct {
	// Index is the zero-based number of ticks delivered before this one.
	Index uint64
	// Settings are the settings the run was started with.
	Settings Settings
	// RunID identifies the run that produced the tick.
	RunID string
}

// Callback receives ticks. Returning an error, or panicking, terminates the run
// with ReasonCallbackFailed.
type Callback interface {
	OnEmit(now time.Time, ec EmissionContext) error
}

// CallbackFunc adapts a plain function that cannot fail to a Callback
type CallbackFunc func(now time.Time, ec EmissionContext)

// OnEmit calls f(now, ec)
func (f CallbackFunc) OnEmit(now time.Time, ec EmissionContext) error {
	f(now, ec)
	return nil
}

// FallibleFunc adapts a function returning an error to a Callback
type FallibleFunc func(now time.Time, ec EmissionContext) error

// OnEmit calls f(now, ec)
func (f FallibleFunc) OnEmit(now time.Time, ec EmissionContext) error {
	return f(now, ec)
}

// Outcome describes how a run ended. It is available from the Join once the
// worker has exited.
type Outcome struct {
	RunID      string
	Reason     Reason
	Events     uint64
	Err        error // *CallbackError when Reason is ReasonCallbackFailed
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run was active
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
