package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ahmed-com/emitter/recovery"
)

var (
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken
	ErrQueueFull = errors.New("concurrency: worker pool queue is full")
	// ErrPoolStopped is returned once Stop has been called
	ErrPoolStopped = errors.New("concurrency: worker pool is stopped")
)

// Task is a unit of work run by the pool. A returned error, or a recovered
// panic, is passed to the pool's error handler.
type Task func() error

// WorkerPool manages a pool of workers to limit concurrent callback work
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan Task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	senders    sync.WaitGroup
	started    bool
	stopped    bool
	mu         sync.RWMutex
	onError    atomic.Pointer[func(error)]
}

// NewWorkerPool creates a new worker pool with the specified max workers
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 10 // default
	}

	p := &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, maxWorkers*2), // buffer to avoid blocking
		stopCh:     make(chan struct{}),
	}
	p.SetErrorHandler(nil)
	return p
}

// SetErrorHandler sets the function receiving task errors and panics. It is
// called on the worker goroutine.
func (p *WorkerPool) SetErrorHandler(h func(error)) {
	if h == nil {
		h = func(error) {}
	}
	p.onError.Store(&h)
}

// Start starts the worker pool
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}

	p.started = true

	// Start worker goroutines
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker is the main worker goroutine that processes tasks until the queue
// is closed and drained
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *WorkerPool) run(task Task) {
	if err := recovery.Call(task); err != nil {
		(*p.onError.Load())(err)
	}
}

// Submit submits a task to the worker pool.
// This will block if the queue is full. A Submit blocked when Stop is called
// returns ErrPoolStopped.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	if !p.started {
		p.mu.RUnlock()
		// If pool not started, execute task synchronously
		p.run(task)
		return nil
	}
	// Stop waits for registered senders before closing the queue
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	select {
	case p.taskQueue <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolStopped
	}
}

// TrySubmit queues a task without blocking. It returns ErrQueueFull when the
// queue has no free slot. Tasks queued before Start run once the pool starts,
// or on the caller of Stop if it never does.
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting tasks, lets the workers drain the queue and waits for
// them to finish. A stopped pool cannot be restarted.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.senders.Wait()
	close(p.taskQueue)

	if started {
		p.wg.Wait()
		return
	}
	// No workers ever ran; drain what TrySubmit queued
	for task := range p.taskQueue {
		p.run(task)
	}
}

// QueueLength returns the current number of tasks in the queue
func (p *WorkerPool) QueueLength() int {
	return len(p.taskQueue)
}

// MaxWorkers returns the maximum number of workers in the pool
func (p *WorkerPool) MaxWorkers() int {
	return p.maxWorkers
}
