package emitter

import (
	"fmt"
	"time"
)

// DefaultInterval is the interval used by NewSettings
const DefaultInterval = time.Second

// Settings configures one emission run. It is a value: every setter returns a
// new Settings and leaves the receiver untouched, so a run never observes
// changes made after it started.
//
//	s := emitter.Must(emitter.NewSettings().SetInterval(10 * time.Millisecond))
//	s = emitter.Must(s.SetMaxEvents(3))
type Settings struct {
	interval  time.Duration
	maxEvents uint64 // 0 means unbounded
}

// NewSettings returns the defaults: DefaultInterval and no event limit
func NewSettings() Settings {
	return Settings{interval: DefaultInterval}
}

// SetInterval returns a copy with the given interval. A non-positive interval
// is rejected with ErrInvalidInterval and the receiver is returned unchanged.
func (s Settings) SetInterval(interval time.Duration) (Settings, error) {
	if interval <= 0 {
		return s, fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}
	s.interval = interval
	return s, nil
}

// SetMaxEvents returns a copy limited to n events. Zero is rejected with
// ErrInvalidEventLimit and the receiver is returned unchanged.
func (s Settings) SetMaxEvents(n uint64) (Settings, error) {
	if n == 0 {
		return s, ErrInvalidEventLimit
	}
	s.maxEvents = n
	return s, nil
}

// ClearMaxEvents returns a copy without an event limit
func (s Settings) ClearMaxEvents() Settings {
	s.maxEvents = 0
	return s
}

// Interval returns the delay between ticks
func (s Settings) Interval() time.Duration {
	return s.interval
}

// MaxEvents returns the event limit and whether one is set
func (s Settings) MaxEvents() (uint64, bool) {
	return s.maxEvents, s.maxEvents > 0
}

// Bounded reports whether an event limit is set
func (s Settings) Bounded() bool {
	return s.maxEvents > 0
}

// IsZero reports whether s is the zero value rather than built by NewSettings
func (s Settings) IsZero() bool {
	return s.interval == 0
}

func (s Settings) String() string {
	if s.maxEvents == 0 {
		return fmt.Sprintf("every %s, unbounded", s.interval)
	}
	return fmt.Sprintf("every %s, max %d events", s.interval, s.maxEvents)
}

// Must panics if err is non-nil and otherwise returns s
func Must(s Settings, err error) Settings {
	if err != nil {
		panic(err)
	}
	return s
}
