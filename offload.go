package emitter

import (
	"time"

	"github.com/ahmed-com/emitter/concurrency"
)

// Offload returns a Callback that queues work on pool and returns at once, so
// slow work never delays the emitter's worker (or blocks an event loop).
//
// Work runs later on a pool goroutine; its errors and panics go to the pool's
// error handler and do not end the run. A full queue does end the run: the
// tick fails with concurrency.ErrQueueFull and is never retried.
func Offload(pool *concurrency.WorkerPool, work Callback) Callback {
	return FallibleFunc(func(now time.Time, ec EmissionContext) error {
		return pool.TrySubmit(func() error {
			return work.OnEmit(now, ec)
		})
	})
}
