package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically deletes finished run records older than a retention window
type Reaper struct {
	store     Storage
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReaper creates a new reaper instance
func NewReaper(store Storage, retention, interval time.Duration, logger zerolog.Logger) *Reaper {
	if retention <= 0 {
		retention = 24 * time.Hour // default
	}
	if interval <= 0 {
		interval = 5 * time.Minute // default
	}

	return &Reaper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("component", "reaper").Logger(),
	}
}

// Start starts the reaper goroutine. Starting a running reaper is a no-op. A
// reaper that was stopped, or whose context ended, can be started again.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopCh != nil {
		select {
		case <-r.doneCh:
		default:
			return
		}
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(ctx, r.stopCh, r.doneCh)
}

// run is the main reaper loop
func (r *Reaper) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.Reap(ctx, time.Now())
		}
	}
}

// Reap deletes every run that finished before now minus the retention window
// and returns how many were removed
func (r *Reaper) Reap(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.retention)

	runs, err := r.store.ListFinishedBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list expired runs")
		return 0, err
	}

	removed := 0
	for _, run := range runs {
		if err := r.store.DeleteRun(ctx, run.ID); err != nil {
			r.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to delete expired run")
			continue
		}
		removed++
	}

	if removed > 0 {
		r.logger.Debug().Int("removed", removed).Time("cutoff", cutoff).Msg("reaped run history")
	}
	return removed, nil
}

// Stop stops the reaper and waits for its goroutine to exit. Stopping a
// reaper that is not running is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	r.stopCh = nil
	r.doneCh = nil
}
