package emitter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed-com/emitter/concurrency"
	"github.com/ahmed-com/emitter/metrics"
	"github.com/ahmed-com/emitter/recovery"
	"github.com/ahmed-com/emitter/storage"
	"github.com/ahmed-com/emitter/ticker"
)

// runningLoop starts an event loop that is stopped when the test ends
func runningLoop(t *testing.T) *eventloop.Loop {
	t.Helper()

	loop, err := eventloop.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// forEachDriver runs fn once per worker strategy
func forEachDriver(t *testing.T, fn func(t *testing.T, d ticker.Driver)) {
	t.Run("thread", func(t *testing.T) {
		fn(t, ticker.NewThreadDriver())
	})
	t.Run("loop", func(t *testing.T) {
		fn(t, ticker.NewLoopDriver(runningLoop(t)))
	})
}

// recorder is a Callback remembering every tick it saw
type recorder struct {
	mu      sync.Mutex
	indices []uint64
	times   []time.Time
	ctxs    []EmissionContext
}

func (r *recorder) OnEmit(now time.Time, ec EmissionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices = append(r.indices, ec.Index)
	r.times = append(r.times, now)
	r.ctxs = append(r.ctxs, ec)
	return nil
}

func (r *recorder) Indices() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.indices...)
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.indices)
}

func wait(t *testing.T, j *Join) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	o, err := j.WaitContext(ctx)
	require.NoError(t, err, "run did not finish")
	return o
}

func settings(t *testing.T, interval time.Duration, maxEvents uint64) Settings {
	t.Helper()
	s, err := NewSettings().SetInterval(interval)
	require.NoError(t, err)
	if maxEvents > 0 {
		s, err = s.SetMaxEvents(maxEvents)
		require.NoError(t, err)
	}
	return s
}

func TestEmitStopsAtLimit(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d), WithSettings(settings(t, 10*time.Millisecond, 3)))
		rec := &recorder{}

		sub, err := e.Emit(rec)
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)
		j := sub.Unsubscribe()

		o, ok := j.Outcome()
		require.True(t, ok, "join should already be resolved")
		assert.Equal(t, []uint64{0, 1, 2}, rec.Indices())
		assert.Equal(t, ReasonLimitReached, o.Reason)
		assert.Equal(t, uint64(3), o.Events)
		assert.NoError(t, o.Err)
		assert.Equal(t, sub.ID(), o.RunID)
	})
}

func TestUnsubscribeBeforeFirstTick(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		var calls atomic.Int32

		sub, err := e.Emit(CallbackFunc(func(time.Time, EmissionContext) {
			calls.Add(1)
		}))
		require.NoError(t, err)

		start := time.Now()
		o := wait(t, sub.Unsubscribe())

		assert.Less(t, time.Since(start), DefaultInterval/2, "unsubscribe must wake the pending wait")
		assert.Zero(t, calls.Load())
		assert.Equal(t, ReasonCancelled, o.Reason)
		assert.Zero(t, o.Events)
	})
}

func TestSingleEventEndsWithoutExtraWait(t *testing.T) {
	const interval = 100 * time.Millisecond

	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		rec := &recorder{}

		sub, err := e.EmitWithSettings(settings(t, interval, 1), rec)
		require.NoError(t, err)

		o := wait(t, sub.Join())
		assert.Equal(t, ReasonLimitReached, o.Reason)
		assert.Equal(t, 1, rec.Count())
		assert.Less(t, o.Duration(), 2*interval-20*time.Millisecond)
	})
}

func TestUnsubscribeDuringCallback(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		entered := make(chan struct{})
		release := make(chan struct{})
		var calls atomic.Int32

		sub, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 0), CallbackFunc(func(time.Time, EmissionContext) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
		}))
		require.NoError(t, err)

		<-entered
		j := sub.Unsubscribe()

		// The callback in progress is not interrupted
		_, ok := j.Outcome()
		assert.False(t, ok)

		close(release)
		o := wait(t, j)

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, ReasonCancelled, o.Reason)
		assert.Equal(t, uint64(1), o.Events)
	})
}

func TestCallbackErrorEndsRun(t *testing.T) {
	boom := errors.New("boom")

	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		var calls atomic.Int32

		sub, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 10), FallibleFunc(func(_ time.Time, ec EmissionContext) error {
			calls.Add(1)
			if ec.Index == 2 {
				return boom
			}
			return nil
		}))
		require.NoError(t, err)

		o := wait(t, sub.Join())
		assert.Equal(t, ReasonCallbackFailed, o.Reason)
		assert.Equal(t, uint64(2), o.Events)
		assert.Equal(t, int32(3), calls.Load())

		require.ErrorIs(t, o.Err, ErrCallbackFailure)
		assert.ErrorIs(t, o.Err, boom)

		var cbErr *CallbackError
		require.ErrorAs(t, o.Err, &cbErr)
		assert.Equal(t, uint64(2), cbErr.Index)
	})
}

func TestCallbackPanicEndsRun(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))

		sub, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 0), CallbackFunc(func(time.Time, EmissionContext) {
			panic("kaboom")
		}))
		require.NoError(t, err)

		o := wait(t, sub.Join())
		assert.Equal(t, ReasonCallbackFailed, o.Reason)
		assert.Zero(t, o.Events)
		assert.ErrorIs(t, o.Err, ErrCallbackFailure)

		var pe *recovery.PanicError
		require.ErrorAs(t, o.Err, &pe)
		assert.Equal(t, "kaboom", pe.Value)
	})
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))

		sub, err := e.Emit(&recorder{})
		require.NoError(t, err)

		j1 := sub.Unsubscribe()
		j2 := sub.Unsubscribe()
		assert.Same(t, j1, j2)
		assert.Same(t, j1, sub.Join())

		o := wait(t, j1)
		assert.Equal(t, ReasonCancelled, o.Reason)

		// After the run has ended as well
		assert.Same(t, j1, sub.Unsubscribe())
	})
}

func TestUnboundedRunsUntilCancelled(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		rec := &recorder{}

		sub, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 0), rec)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return rec.Count() >= 5 }, 2*time.Second, 5*time.Millisecond)
		o := wait(t, sub.Unsubscribe())

		assert.Equal(t, ReasonCancelled, o.Reason)
		assert.Equal(t, uint64(rec.Count()), o.Events)

		// Indices are gap-free and start at zero
		for i, idx := range rec.Indices() {
			assert.Equal(t, uint64(i), idx)
		}
	})
}

func TestIntervalFidelity(t *testing.T) {
	const interval = 20 * time.Millisecond

	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		rec := &recorder{}

		sub, err := e.EmitWithSettings(settings(t, interval, 4), rec)
		require.NoError(t, err)
		wait(t, sub.Join())

		rec.mu.Lock()
		defer rec.mu.Unlock()
		require.Len(t, rec.times, 4)
		for i := 1; i < len(rec.times); i++ {
			assert.GreaterOrEqual(t, rec.times[i].Sub(rec.times[i-1]), interval)
		}
	})
}

func TestEmissionContext(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		s := settings(t, 5*time.Millisecond, 2)
		e := New(WithDriver(d))
		rec := &recorder{}

		sub, err := e.EmitWithSettings(s, rec)
		require.NoError(t, err)
		wait(t, sub.Join())

		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, ec := range rec.ctxs {
			assert.Equal(t, s, ec.Settings)
			assert.Equal(t, sub.ID(), ec.RunID)
		}
		assert.Equal(t, s, sub.Settings())
	})
}

func TestRunsAreIndependent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		e := New(WithDriver(d))
		a, b := &recorder{}, &recorder{}

		subA, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 2), a)
		require.NoError(t, err)
		subB, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 4), b)
		require.NoError(t, err)

		assert.NotEqual(t, subA.ID(), subB.ID())

		wait(t, subA.Join())
		wait(t, subB.Join())
		assert.Equal(t, []uint64{0, 1}, a.Indices())
		assert.Equal(t, []uint64{0, 1, 2, 3}, b.Indices())
	})
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestWithClock(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(WithClock(fixedClock{at}))
	rec := &recorder{}

	sub, err := e.EmitWithSettings(settings(t, time.Millisecond, 2), rec)
	require.NoError(t, err)
	o := wait(t, sub.Join())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, now := range rec.times {
		assert.True(t, now.Equal(at))
	}
	assert.True(t, o.StartedAt.Equal(at))
}

func TestEmitValidation(t *testing.T) {
	e := New()

	_, err := e.Emit(nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = e.Emit(CallbackFunc(nil))
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = e.Emit(FallibleFunc(nil))
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = e.EmitWithSettings(Settings{}, &recorder{})
	assert.ErrorIs(t, err, ErrZeroSettings)

	_, err = New(WithSettings(Settings{})).Emit(&recorder{})
	assert.ErrorIs(t, err, ErrZeroSettings)
}

func TestEmitDriverFailure(t *testing.T) {
	m := metrics.NewInMemoryMetrics()
	store := storage.NewMemoryStorage()
	e := New(WithDriver(ticker.NewLoopDriver(nil)), WithMetrics(m), WithStorage(store))

	_, err := e.Emit(&recorder{})
	require.ErrorIs(t, err, ticker.ErrNilLoop)

	assert.Zero(t, m.GetRunsActive())
	assert.Zero(t, m.GetRunsStarted(e.Name()))

	runs, err := store.ListRuns(context.Background(), e.Name())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestUnsubscribeAfterLoopTerminated(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()

	e := New(WithDriver(ticker.NewLoopDriver(loop)))
	sub, err := e.EmitWithSettings(settings(t, time.Hour, 0), &recorder{})
	require.NoError(t, err)

	cancel()
	<-stopped

	o := wait(t, sub.Unsubscribe())
	assert.Equal(t, ReasonCancelled, o.Reason)
	assert.Zero(t, o.Events)

	// A dead loop refuses new runs
	_, err = e.Emit(&recorder{})
	assert.Error(t, err)
}

func TestWaitContext(t *testing.T) {
	e := New()
	sub, err := e.Emit(&recorder{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = sub.Join().WaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sub.Join().Finished())
}

func TestJoinDone(t *testing.T) {
	e := New(WithSettings(settings(t, time.Millisecond, 1)))
	sub, err := e.Emit(&recorder{})
	require.NoError(t, err)

	select {
	case <-sub.Join().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed")
	}
	assert.Equal(t, ReasonLimitReached, sub.Join().Wait().Reason)
}

func TestEmitterIdentity(t *testing.T) {
	a := New(WithName("clock"))
	b := New(WithName("clock"))

	assert.Equal(t, "clock", a.Name())
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, DefaultName, New(WithName("")).Name())
	assert.IsType(t, &ticker.ThreadDriver{}, New().Driver())
	assert.Equal(t, NewSettings(), New().Settings())
}

func TestMetricsRecorded(t *testing.T) {
	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		m := metrics.NewInMemoryMetrics()
		e := New(WithName("clock"), WithDriver(d), WithMetrics(m))

		sub, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 3), &recorder{})
		require.NoError(t, err)
		wait(t, sub.Join())

		assert.Equal(t, int64(1), m.GetRunsStarted("clock"))
		assert.Equal(t, int64(1), m.GetRunsFinished("clock", string(ReasonLimitReached)))
		assert.Equal(t, int64(3), m.GetTicks("clock"))
		assert.Equal(t, int64(3), m.GetCallbacks("clock", "success"))
		assert.Len(t, m.GetCallbackDurations("clock"), 3)
		assert.Len(t, m.GetRunDurations("clock"), 1)
		assert.Zero(t, m.GetRunsActive())
	})
}

func TestRunHistoryRecorded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	e := New(WithName("clock"), WithStorage(store))

	limited, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 2), &recorder{})
	require.NoError(t, err)
	wait(t, limited.Join())

	failing, err := e.EmitWithSettings(settings(t, 5*time.Millisecond, 0), FallibleFunc(func(time.Time, EmissionContext) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)
	wait(t, failing.Join())

	rec, err := store.GetRun(ctx, limited.ID())
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusLimitReached, rec.Status)
	assert.Equal(t, uint64(2), rec.Events)
	assert.Equal(t, uint64(2), rec.MaxEvents)
	assert.Equal(t, e.ID(), rec.EmitterID)
	require.NotNil(t, rec.FinishedAt)

	rec, err = store.GetRun(ctx, failing.ID())
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusCallbackFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "boom")

	runs, err := store.ListRuns(ctx, "clock")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestOffload(t *testing.T) {
	pool := concurrency.NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	var done atomic.Int32
	work := CallbackFunc(func(time.Time, EmissionContext) {
		time.Sleep(20 * time.Millisecond)
		done.Add(1)
	})

	forEachDriver(t, func(t *testing.T, d ticker.Driver) {
		done.Store(0)
		e := New(WithDriver(d))

		start := time.Now()
		sub, err := e.EmitWithSettings(settings(t, time.Millisecond, 3), Offload(pool, work))
		require.NoError(t, err)

		o := wait(t, sub.Join())
		assert.Equal(t, ReasonLimitReached, o.Reason)

		// Three ticks of 20ms work finished before the work could have run serially
		assert.Less(t, o.FinishedAt.Sub(start), 60*time.Millisecond)
		require.Eventually(t, func() bool { return done.Load() == 3 }, time.Second, 5*time.Millisecond)
	})
}

func TestOffloadQueueFullFailsRun(t *testing.T) {
	pool := concurrency.NewWorkerPool(1)
	block := make(chan struct{})
	defer close(block)

	// Not started: the two queue slots fill up and stay full
	work := CallbackFunc(func(time.Time, EmissionContext) { <-block })

	e := New()
	sub, err := e.EmitWithSettings(settings(t, time.Millisecond, 0), Offload(pool, work))
	require.NoError(t, err)

	o := wait(t, sub.Join())
	assert.Equal(t, ReasonCallbackFailed, o.Reason)
	assert.Equal(t, uint64(2), o.Events)
	assert.ErrorIs(t, o.Err, concurrency.ErrQueueFull)
}
