package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStorage keeps run records in process memory
type MemoryStorage struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{runs: make(map[string]*Run)}
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStorage) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return copyRun(run), nil
}

func (s *MemoryStorage) UpdateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	run.UpdatedAt = time.Now()
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// ListRuns returns the runs of one emitter, oldest first
func (s *MemoryStorage) ListRuns(ctx context.Context, emitterName string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.EmitterName == emitterName {
			runs = append(runs, copyRun(run))
		}
	}
	SortRuns(runs)
	return runs, nil
}

func (s *MemoryStorage) ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.FinishedBefore(cutoff) {
			runs = append(runs, copyRun(run))
		}
	}
	SortRuns(runs)
	return runs, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func copyRun(run *Run) *Run {
	c := *run
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// SortRuns orders runs by start time, then ID
func SortRuns(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
}
