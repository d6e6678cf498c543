package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ahmed-com/emitter/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerStorage implements the Storage interface using BadgerDB
type BadgerStorage struct {
	db *badger.DB
}

var _ storage.Storage = (*BadgerStorage)(nil)

// NewBadgerStorage creates a new BadgerDB storage instance at path
func NewBadgerStorage(path string, logger zerolog.Logger) (*BadgerStorage, error) {
	return open(badger.DefaultOptions(path), logger)
}

// NewInMemoryBadgerStorage creates a BadgerDB storage instance that never
// touches disk
func NewInMemoryBadgerStorage(logger zerolog.Logger) (*BadgerStorage, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger zerolog.Logger) (*BadgerStorage, error) {
	opts = opts.WithLogger(badgerLogger{logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStorage{db: db}, nil
}

// Hierarchical key schema implementation. Path segments are escaped so a
// name containing '/' cannot reach into another emitter's keys.
func (s *BadgerStorage) runKey(emitterName, runID string) []byte {
	return []byte(fmt.Sprintf("emitter/%s/run/%s", url.PathEscape(emitterName), url.PathEscape(runID)))
}

func (s *BadgerStorage) emitterRunsPrefix(emitterName string) []byte {
	return []byte(fmt.Sprintf("emitter/%s/run/", url.PathEscape(emitterName)))
}

// indexKey maps a run ID to its primary key
func (s *BadgerStorage) indexKey(runID string) []byte {
	return []byte(fmt.Sprintf("index/run/%s", runID))
}

// Run operations

func (s *BadgerStorage) CreateRun(ctx context.Context, run *storage.Run) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := s.runKey(run.EmitterName, run.ID)

		// Check if already exists
		_, err := txn.Get(s.indexKey(run.ID))
		if err == nil {
			return fmt.Errorf("%w: %s", storage.ErrRunExists, run.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		now := time.Now()
		if run.CreatedAt.IsZero() {
			run.CreatedAt = now
		}
		run.UpdatedAt = now

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		if err := txn.Set(s.indexKey(run.ID), key); err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *BadgerStorage) GetRun(ctx context.Context, runID string) (*storage.Run, error) {
	var run storage.Run

	err := s.db.View(func(txn *badger.Txn) error {
		key, err := s.lookup(txn, runID)
		if err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (s *BadgerStorage) UpdateRun(ctx context.Context, run *storage.Run) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		// Check if exists
		oldKey, err := s.lookup(txn, run.ID)
		if err != nil {
			return err
		}

		run.UpdatedAt = time.Now()
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		// A renamed emitter moves the record and repoints the index
		key := s.runKey(run.EmitterName, run.ID)
		if !bytes.Equal(key, oldKey) {
			if err := txn.Delete(oldKey); err != nil {
				return err
			}
			if err := txn.Set(s.indexKey(run.ID), key); err != nil {
				return err
			}
		}
		return txn.Set(key, data)
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, run.ID)
	}
	return err
}

func (s *BadgerStorage) DeleteRun(ctx context.Context, runID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key, err := s.lookup(txn, runID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(s.indexKey(runID))
	})
}

// ListRuns returns the runs of one emitter, oldest first
func (s *BadgerStorage) ListRuns(ctx context.Context, emitterName string) ([]*storage.Run, error) {
	runs, err := s.scan(s.emitterRunsPrefix(emitterName), func(*storage.Run) bool { return true })
	if err != nil {
		return nil, err
	}
	storage.SortRuns(runs)
	return runs, nil
}

func (s *BadgerStorage) ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]*storage.Run, error) {
	runs, err := s.scan([]byte("emitter/"), func(run *storage.Run) bool {
		return run.FinishedBefore(cutoff)
	})
	if err != nil {
		return nil, err
	}
	storage.SortRuns(runs)
	return runs, nil
}

// lookup resolves a run ID to its primary key through the index
func (s *BadgerStorage) lookup(txn *badger.Txn, runID string) ([]byte, error) {
	item, err := txn.Get(s.indexKey(runID))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *BadgerStorage) scan(prefix []byte, keep func(*storage.Run) bool) ([]*storage.Run, error) {
	var runs []*storage.Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			// Skip anything that is not a run record
			if !strings.Contains(string(item.Key()), "/run/") {
				continue
			}

			err := item.Value(func(val []byte) error {
				var run storage.Run
				if err := json.Unmarshal(val, &run); err != nil {
					return err
				}
				if keep(&run) {
					runs = append(runs, &run)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	return runs, err
}

// Close closes the database connection
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging into zerolog. Badger is chatty
// at info level, so info is demoted to debug.
type badgerLogger struct {
	zl zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.zl.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.zl.Trace().Msgf(strings.TrimSpace(format), args...)
}
