package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRunNotFound is returned when no record exists for a run ID
	ErrRunNotFound = errors.New("storage: run not found")
	// ErrRunExists is returned by CreateRun for a duplicate run ID
	ErrRunExists = errors.New("storage: run already exists")
)

// Storage defines the interface for persisting the history of emission runs.
// Records are an audit trail only; nothing is resumed from them.
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, emitterName string) ([]*Run, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]*Run, error)

	// Close closes the storage connection
	Close() error
}

// RunStatus represents the state of a run record
type RunStatus string

const (
	RunStatusRunning        RunStatus = "Running"
	RunStatusLimitReached   RunStatus = "LimitReached"
	RunStatusCancelled      RunStatus = "Cancelled"
	RunStatusCallbackFailed RunStatus = "CallbackFailed"
)

// Finished reports whether the status is terminal
func (s RunStatus) Finished() bool {
	return s != RunStatusRunning
}

// Run represents one emission run in storage
type Run struct {
	ID           string
	EmitterID    string
	EmitterName  string
	Interval     time.Duration
	MaxEvents    uint64 // 0 means unbounded
	Status       RunStatus
	Events       uint64
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FinishedBefore reports whether the run ended strictly before cutoff
func (r *Run) FinishedBefore(cutoff time.Time) bool {
	return r.Status.Finished() && r.FinishedAt != nil && r.FinishedAt.Before(cutoff)
}
