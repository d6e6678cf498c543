package emitter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahmed-com/emitter/executor"
	"github.com/ahmed-com/emitter/id"
	"github.com/ahmed-com/emitter/metrics"
	"github.com/ahmed-com/emitter/storage"
	"github.com/ahmed-com/emitter/ticker"
)

// DefaultName is the emitter name used when WithName is not given
const DefaultName = "emitter"

// Emitter starts recurring emission runs. Every call to Emit starts an
// independent run with its own state, worker and Subscription. An Emitter is
// safe for concurrent use.
type Emitter struct {
	name     string
	id       string
	settings Settings
	driver   ticker.Driver
	clock    ticker.Clock
	logger   zerolog.Logger
	metrics  metrics.MetricsCollector
	store    storage.Storage
	exec     *executor.Executor

	seq atomic.Uint64
}

// Option configures an Emitter
type Option func(*Emitter)

// WithName sets the name used in logs, metrics labels and run history
func WithName(name string) Option {
	return func(e *Emitter) {
		if name != "" {
			e.name = name
		}
	}
}

// WithSettings sets the settings used by Emit
func WithSettings(s Settings) Option {
	return func(e *Emitter) {
		e.settings = s
	}
}

// WithDriver selects the worker strategy. The default is a ThreadDriver.
func WithDriver(d ticker.Driver) Option {
	return func(e *Emitter) {
		if d != nil {
			e.driver = d
		}
	}
}

// WithClock sets the time source sampled on every tick
func WithClock(c ticker.Clock) Option {
	return func(e *Emitter) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Emitter) {
		e.logger = l
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(e *Emitter) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithStorage records the history of every run in s
func WithStorage(s storage.Storage) Option {
	return func(e *Emitter) {
		e.store = s
	}
}

// New creates an emitter with default settings, a ThreadDriver and the
// system clock, then applies opts
func New(opts ...Option) *Emitter {
	e := &Emitter{
		name:     DefaultName,
		settings: NewSettings(),
		driver:   ticker.NewThreadDriver(),
		clock:    ticker.SystemClock,
		logger:   zerolog.Nop(),
		metrics:  metrics.NewNoOpMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.id = id.GenerateEmitterID(e.name)
	e.logger = e.logger.With().Str("emitter", e.name).Logger()
	e.exec = executor.NewExecutor(e.name)
	e.exec.SetMetrics(e.metrics)
	return e
}

// Name returns the emitter name
func (e *Emitter) Name() string {
	return e.name
}

// ID returns the deterministic emitter ID derived from its name
func (e *Emitter) ID() string {
	return e.id
}

// Settings returns the settings used by Emit
func (e *Emitter) Settings() Settings {
	return e.settings
}

// Driver returns the worker strategy runs are started on
func (e *Emitter) Driver() ticker.Driver {
	return e.driver
}

// Emit starts a run with the emitter's settings. See EmitWithSettings.
func (e *Emitter) Emit(cb Callback) (*Subscription, error) {
	return e.EmitWithSettings(e.settings, cb)
}

// EmitWithSettings starts a run that invokes cb once per interval until the
// event limit is reached, the subscription is cancelled or cb fails. It
// returns without waiting for the first tick.
func (e *Emitter) EmitWithSettings(settings Settings, cb Callback) (*Subscription, error) {
	if isNilCallback(cb) {
		return nil, ErrNilCallback
	}
	if settings.IsZero() {
		return nil, ErrZeroSettings
	}

	r := e.newRun(settings, cb)
	e.recordStart(r)

	e.metrics.AddRunsActive(1)
	stopper, err := e.driver.Start(settings.Interval(), r.tick, r.finish)
	if err != nil {
		e.metrics.AddRunsActive(-1)
		e.discardRecord(r)
		return nil, fmt.Errorf("emitter: start run: %w", err)
	}
	e.metrics.IncRunsStarted(e.name)

	r.logger.Debug().
		Dur("interval", settings.Interval()).
		Uint64("max_events", settings.maxEvents).
		Msg("run started")

	return &Subscription{run: r, stopper: stopper}, nil
}

func (e *Emitter) newRun(settings Settings, cb Callback) *run {
	startedAt := e.clock.Now()
	runID := id.GenerateRunID(e.id, startedAt, e.seq.Add(1))

	return &run{
		emitter:   e,
		id:        runID,
		settings:  settings,
		cb:        cb,
		startedAt: startedAt,
		logger:    e.logger.With().Str("run_id", runID).Logger(),
		join:      newJoin(),
	}
}

// recordStart persists the run record. History is best effort: a failing
// store is logged and never prevents the run.
func (e *Emitter) recordStart(r *run) {
	if e.store == nil {
		return
	}

	r.record = &storage.Run{
		ID:          r.id,
		EmitterID:   e.id,
		EmitterName: e.name,
		Interval:    r.settings.Interval(),
		MaxEvents:   r.settings.maxEvents,
		Status:      storage.RunStatusRunning,
		StartedAt:   r.startedAt,
	}
	if err := e.store.CreateRun(context.Background(), r.record); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record run start")
		r.record = nil
	}
}

func (e *Emitter) recordFinish(r *run, o Outcome) {
	if e.store == nil || r.record == nil {
		return
	}

	finishedAt := o.FinishedAt
	r.record.Status = storage.RunStatus(o.Reason)
	r.record.Events = o.Events
	r.record.FinishedAt = &finishedAt
	if o.Err != nil {
		r.record.ErrorMessage = o.Err.Error()
	}
	if err := e.store.UpdateRun(context.Background(), r.record); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record run outcome")
	}
}

func (e *Emitter) discardRecord(r *run) {
	if e.store == nil || r.record == nil {
		return
	}
	if err := e.store.DeleteRun(context.Background(), r.id); err != nil {
		r.logger.Warn().Err(err).Msg("failed to discard run record")
	}
}

func isNilCallback(cb Callback) bool {
	switch f := cb.(type) {
	case nil:
		return true
	case CallbackFunc:
		return f == nil
	case FallibleFunc:
		return f == nil
	}
	return false
}

// sinceStart is the run duration reported to metrics
func sinceStart(startedAt, finishedAt time.Time) time.Duration {
	if d := finishedAt.Sub(startedAt); d > 0 {
		return d
	}
	return 0
}
