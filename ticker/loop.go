package ticker

import (
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/go-eventloop"
)

// ErrNilLoop is returned by a LoopDriver that has no event loop
var ErrNilLoop = errors.New("ticker: nil event loop")

// LoopDriver runs loops as timers on a cooperative event loop. Ticks, and
// therefore callbacks, execute on the loop goroutine, so they must not block
// for long: anything slow belongs on another goroutine.
//
// The event loop is owned by the caller and has to be running (see
// eventloop.Loop.Run) for ticks to be delivered. Once the loop has
// terminated, Start fails and Stop completes the session on the caller's
// goroutine.
type LoopDriver struct {
	loop *eventloop.Loop
}

// NewLoopDriver creates a driver scheduling onto loop
func NewLoopDriver(loop *eventloop.Loop) *LoopDriver {
	return &LoopDriver{loop: loop}
}

// Loop returns the underlying event loop
func (d *LoopDriver) Loop() *eventloop.Loop {
	return d.loop
}

// Start schedules the first tick and returns immediately
func (d *LoopDriver) Start(interval time.Duration, tick TickFunc, done func()) (Stopper, error) {
	if d == nil || d.loop == nil {
		return nil, ErrNilLoop
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	s := &loopSession{
		loop:     d.loop,
		interval: interval,
		tick:     tick,
		done:     done,
	}
	if err := s.arm(interval); err != nil {
		return nil, err
	}
	return s, nil
}

// loopSession is one tick loop. Every field below stopOnce is only touched on
// the loop goroutine, or by Stop once the loop has terminated.
type loopSession struct {
	loop     *eventloop.Loop
	interval time.Duration
	tick     TickFunc
	done     func()

	stopOnce sync.Once

	due      time.Time
	finished bool
}

// arm schedules the next fire. The first call happens before the session is
// visible to the loop, later calls happen on the loop goroutine.
func (s *loopSession) arm(delay time.Duration) error {
	s.due = time.Now().Add(delay)
	_, err := s.loop.ScheduleTimer(delay, s.fire)
	return err
}

func (s *loopSession) fire() {
	if s.finished {
		return
	}

	// Loop timers are relative to the loop's tick time, which can lag the
	// monotonic clock; never tick before the interval has really elapsed.
	if wait := time.Until(s.due); wait > 0 {
		if _, err := s.loop.ScheduleTimer(wait, s.fire); err != nil {
			s.finish()
		}
		return
	}

	if !s.tick() {
		s.finish()
		return
	}
	if err := s.arm(s.interval); err != nil {
		s.finish()
	}
}

func (s *loopSession) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.done()
}

// Stop delivers the stop to the loop goroutine as a zero-delay timer. A
// terminated loop runs nothing more, so the session is finished here instead.
func (s *loopSession) Stop() {
	s.stopOnce.Do(func() {
		if _, err := s.loop.ScheduleTimer(0, s.finish); err != nil {
			s.finish()
		}
	})
}
