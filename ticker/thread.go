package ticker

import (
	"runtime"
	"sync"
	"time"
)

// ThreadDriver runs every loop on its own goroutine, wired to a dedicated OS
// thread for the lifetime of the loop. Waiting between ticks blocks that
// thread on a timer.
type ThreadDriver struct{}

// NewThreadDriver creates a new thread-backed driver
func NewThreadDriver() *ThreadDriver {
	return &ThreadDriver{}
}

// Start launches the worker goroutine and returns immediately
func (d *ThreadDriver) Start(interval time.Duration, tick TickFunc, done func()) (Stopper, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	w := &threadWorker{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	go w.run(tick, done)
	return w, nil
}

type threadWorker struct {
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// run is the main worker loop
func (w *threadWorker) run(tick TickFunc, done func()) {
	// done runs last, after the thread and timer are released
	defer done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-timer.C:
		}

		if !tick() {
			return
		}

		// Measured from the end of the tick, so ticks never bunch up
		timer.Reset(w.interval)
	}
}

// Stop signals the worker to exit
func (w *threadWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}
