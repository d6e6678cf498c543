package emitter

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahmed-com/emitter/recovery"
	"github.com/ahmed-com/emitter/storage"
)

// run is the state block of one emission. Everything except cancelled is
// owned by the driver's worker: tick and finish never run concurrently.
type run struct {
	emitter   *Emitter
	id        string
	settings  Settings
	cb        Callback
	startedAt time.Time
	logger    zerolog.Logger
	record    *storage.Run

	cancelled atomic.Bool

	emitted uint64
	reason  Reason
	err     error

	join *Join
}

// tick delivers one event. Returning false ends the run.
func (r *run) tick() bool {
	if r.cancelled.Load() {
		return false
	}

	e := r.emitter
	now := e.clock.Now()
	ec := EmissionContext{
		Index:    r.emitted,
		Settings: r.settings,
		RunID:    r.id,
	}
	e.metrics.IncTicks(e.name)

	report := e.exec.Execute(func() error {
		return r.cb.OnEmit(now, ec)
	})
	if report.Failed() {
		r.reason = ReasonCallbackFailed
		r.err = &CallbackError{Index: ec.Index, Err: report.Err}
		ev := r.logger.Error().
			Err(report.Err).
			Uint64("index", ec.Index).
			Str("status", string(report.Status))
		var pe *recovery.PanicError
		if errors.As(report.Err, &pe) {
			ev = ev.Bytes("stack", pe.Stack)
		}
		ev.Msg("callback failed")
		return false
	}
	r.emitted++

	// The limit ends the run right away instead of after one more wait
	if limit, ok := r.settings.MaxEvents(); ok && r.emitted >= limit {
		r.reason = ReasonLimitReached
		return false
	}

	// Unsubscribed while the callback was running
	return !r.cancelled.Load()
}

// finish runs once on the worker after the last tick. The join is resolved
// last so a waiter observes logs, metrics and history already written.
func (r *run) finish() {
	if r.reason == "" {
		r.reason = ReasonCancelled
	}

	e := r.emitter
	o := Outcome{
		RunID:      r.id,
		Reason:     r.reason,
		Events:     r.emitted,
		Err:        r.err,
		StartedAt:  r.startedAt,
		FinishedAt: e.clock.Now(),
	}

	r.logger.Info().
		Str("reason", string(o.Reason)).
		Uint64("events", o.Events).
		Dur("duration", o.Duration()).
		Msg("run finished")

	e.metrics.AddRunsActive(-1)
	e.metrics.IncRunsFinished(e.name, string(o.Reason))
	e.metrics.ObserveRunDuration(e.name, sinceStart(o.StartedAt, o.FinishedAt))

	e.recordFinish(r, o)

	r.join.resolve(o)
}

// cancel requests cancellation and reports whether this call made the request
func (r *run) cancel() bool {
	return r.cancelled.CompareAndSwap(false, true)
}
