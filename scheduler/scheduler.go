package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ahmed-com/emitter"
	"github.com/ahmed-com/emitter/storage"
	"github.com/ahmed-com/emitter/ticker"
)

// ErrShutdownTimeout is returned when runs are still active after the grace period
var ErrShutdownTimeout = errors.New("scheduler: shutdown timed out")

// Config configures a Scheduler
type Config struct {
	// Emitter starts every run. Defaults to emitter.New().
	Emitter *emitter.Emitter
	Logger  zerolog.Logger

	// Store, when set, is pruned of run history older than HistoryRetention
	Store            storage.Storage
	HistoryRetention time.Duration
	ReaperInterval   time.Duration
}

// Scheduler manages named clocks that share one Emitter
type Scheduler struct {
	emitter *emitter.Emitter
	logger  zerolog.Logger
	reaper  *storage.Reaper

	entries   map[string]*Entry
	entriesMu sync.RWMutex

	running   bool
	runningMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config Config) *Scheduler {
	e := config.Emitter
	if e == nil {
		e = emitter.New()
	}

	s := &Scheduler{
		emitter: e,
		logger:  config.Logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*Entry),
	}
	if config.Store != nil {
		s.reaper = storage.NewReaper(config.Store, config.HistoryRetention, config.ReaperInterval, config.Logger)
	}
	return s
}

// Register adds a named clock. A clock registered while the scheduler is
// running starts right away.
func (s *Scheduler) Register(name string, settings emitter.Settings, cb emitter.Callback) (*Entry, error) {
	if name == "" {
		return nil, errors.New("scheduler: empty clock name")
	}
	if cb == nil {
		return nil, emitter.ErrNilCallback
	}

	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	s.entriesMu.Lock()
	if _, exists := s.entries[name]; exists {
		s.entriesMu.Unlock()
		return nil, fmt.Errorf("clock already registered: %s", name)
	}
	entry := newEntry(name, settings, cb)
	s.entries[name] = entry
	s.entriesMu.Unlock()

	if s.running {
		if err := entry.start(s.emitter); err != nil {
			s.entriesMu.Lock()
			delete(s.entries, name)
			s.entriesMu.Unlock()
			return nil, err
		}
	}
	return entry, nil
}

// Start starts every registered clock and the history reaper
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()

	var started []*Entry
	for _, entry := range s.entries {
		if err := entry.start(s.emitter); err != nil {
			// Roll back so a failed Start leaves nothing running
			for _, e := range started {
				e.Stop()
			}
			s.cancel()
			return fmt.Errorf("failed to start clock %s: %w", entry.name, err)
		}
		started = append(started, entry)
	}

	if s.reaper != nil {
		s.reaper.Start(s.ctx)
	}

	s.running = true
	s.logger.Info().Int("clocks", len(started)).Msg("scheduler started")
	return nil
}

// Shutdown cancels every clock and waits up to timeout for their runs to end
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return nil
	}

	// Cancel all runs first so they wind down in parallel
	s.entriesMu.RLock()
	joins := make([]*emitter.Join, 0, len(s.entries))
	for _, entry := range s.entries {
		if j := entry.unsubscribe(); j != nil {
			joins = append(joins, j)
		}
	}
	s.entriesMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	for _, j := range joins {
		if _, werr := j.WaitContext(ctx); werr != nil {
			err = fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
			break
		}
	}

	// Stop reaper
	s.cancel()
	if s.reaper != nil {
		s.reaper.Stop()
	}

	s.running = false
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler stopped with runs still active")
	} else {
		s.logger.Info().Msg("scheduler stopped")
	}
	return err
}

// Running reports whether Start has been called without a matching Shutdown
func (s *Scheduler) Running() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// Get returns a registered clock by name
func (s *Scheduler) Get(name string) (*Entry, bool) {
	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()

	entry, exists := s.entries[name]
	return entry, exists
}

// List returns all registered clocks ordered by name
func (s *Scheduler) List() []*Entry {
	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()

	entries := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})
	return entries
}

// Entry is one named clock
type Entry struct {
	name     string
	settings emitter.Settings
	cb       emitter.Callback
	schedule cron.Schedule

	mu        sync.RWMutex
	sub       *emitter.Subscription
	startedAt time.Time
	lastTick  time.Time
	count     uint64
}

func newEntry(name string, settings emitter.Settings, cb emitter.Callback) *Entry {
	return &Entry{
		name:     name,
		settings: settings,
		cb:       cb,
		schedule: ticker.Every(settings.Interval()),
	}
}

// Name returns the clock name
func (e *Entry) Name() string {
	return e.name
}

// Settings returns the settings every run of this clock uses
func (e *Entry) Settings() emitter.Settings {
	return e.settings
}

func (e *Entry) start(em *emitter.Emitter) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil && !e.sub.Join().Finished() {
		return nil
	}

	sub, err := em.EmitWithSettings(e.settings, emitter.FallibleFunc(e.onEmit))
	if err != nil {
		return err
	}
	e.sub = sub
	e.startedAt = time.Now()
	return nil
}

// onEmit forwards the tick and records it once the callback succeeded
func (e *Entry) onEmit(now time.Time, ec emitter.EmissionContext) error {
	if err := e.cb.OnEmit(now, ec); err != nil {
		return err
	}

	e.mu.Lock()
	e.count++
	e.lastTick = now
	e.mu.Unlock()
	return nil
}

func (e *Entry) unsubscribe() *emitter.Join {
	e.mu.RLock()
	sub := e.sub
	e.mu.RUnlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Stop cancels the clock, waits for its run to end and returns the time of
// the last tick, or the zero time if it never ticked
func (e *Entry) Stop() time.Time {
	if j := e.unsubscribe(); j != nil {
		j.Wait()
	}
	last, _ := e.LastTick()
	return last
}

// Count returns how many ticks the clock has delivered
func (e *Entry) Count() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// LastTick returns the time of the most recent tick
func (e *Entry) LastTick() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTick, !e.lastTick.IsZero()
}

// NextTick predicts the earliest time of the next tick. It reports false
// when the clock is not running.
func (e *Entry) NextTick() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.sub == nil || e.sub.Join().Finished() {
		return time.Time{}, false
	}

	from := e.startedAt
	if e.lastTick.After(from) {
		from = e.lastTick
	}
	return e.schedule.Next(from), true
}

// Running reports whether the clock has an active run
func (e *Entry) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sub != nil && !e.sub.Join().Finished()
}

// Outcome returns how the latest run ended, once it has
func (e *Entry) Outcome() (emitter.Outcome, bool) {
	e.mu.RLock()
	sub := e.sub
	e.mu.RUnlock()

	if sub == nil {
		return emitter.Outcome{}, false
	}
	return sub.Join().Outcome()
}
