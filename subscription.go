package emitter

import (
	"context"

	"github.com/ahmed-com/emitter/ticker"
)

// Subscription is the cancellation handle of one run
type Subscription struct {
	run     *run
	stopper ticker.Stopper
}

// ID returns the run ID
func (s *Subscription) ID() string {
	return s.run.id
}

// Settings returns the settings the run was started with
func (s *Subscription) Settings() Settings {
	return s.run.settings
}

// Unsubscribe requests cancellation, wakes the worker and returns the run's
// Join without waiting. A callback already in progress is allowed to finish
// and no further callback starts. Calling Unsubscribe again, or after the run
// ended on its own, is a no-op returning the same Join.
func (s *Subscription) Unsubscribe() *Join {
	if s.run.cancel() {
		s.run.logger.Debug().Msg("unsubscribe requested")
		s.stopper.Stop()
	}
	return s.run.join
}

// Join returns the run's Join without cancelling it
func (s *Subscription) Join() *Join {
	return s.run.join
}

// Join resolves once the run's worker has exited. Waiting on a Join from
// inside a callback of the same run never returns.
type Join struct {
	done    chan struct{}
	outcome Outcome
}

func newJoin() *Join {
	return &Join{done: make(chan struct{})}
}

// resolve is called exactly once, by the worker
func (j *Join) resolve(o Outcome) {
	j.outcome = o
	close(j.done)
}

// Done returns a channel closed when the run has ended
func (j *Join) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the run has ended and returns its Outcome
func (j *Join) Wait() Outcome {
	<-j.done
	return j.outcome
}

// WaitContext is Wait bounded by ctx
func (j *Join) WaitContext(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		return j.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the Outcome and true once the run has ended
func (j *Join) Outcome() (Outcome, bool) {
	select {
	case <-j.done:
		return j.outcome, true
	default:
		return Outcome{}, false
	}
}

// Finished reports whether the run has ended
func (j *Join) Finished() bool {
	_, ok := j.Outcome()
	return ok
}
