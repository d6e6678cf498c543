package ticker

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidInterval is returned by drivers asked to tick on a non-positive interval
var ErrInvalidInterval = errors.New("ticker: interval must be positive")

// TickFunc runs one tick on the driver's worker. Returning false ends the loop.
type TickFunc func() bool

// Driver starts tick loops on some worker context (an OS thread, an event loop, ...)
type Driver interface {
	// Start waits interval, calls tick, and repeats until tick returns false or
	// the returned Stopper is stopped. done is called exactly once, on the
	// worker, after the final tick or once the stop has been observed.
	// Start must not block on the loop itself.
	Start(interval time.Duration, tick TickFunc, done func()) (Stopper, error)
}

// Stopper wakes a pending wait and ends the loop. Stop never blocks, may be
// called any number of times, and is a no-op once the loop has ended.
type Stopper interface {
	Stop()
}

// Clock is the time source sampled at each tick
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// IntervalSchedule is a cron.Schedule firing every Interval after the
// previous activation. Unlike cron.Every it keeps sub-second precision.
type IntervalSchedule struct {
	Interval time.Duration
}

var _ cron.Schedule = IntervalSchedule{}

// Every returns the schedule for a fixed interval
func Every(interval time.Duration) IntervalSchedule {
	return IntervalSchedule{Interval: interval}
}

// Next returns the earliest time a tick may follow one delivered at t
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}
