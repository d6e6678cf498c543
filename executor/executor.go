package executor

import (
	"errors"
	"time"

	"github.com/ahmed-com/emitter/metrics"
	"github.com/ahmed-com/emitter/recovery"
)

// Status is the result of one callback attempt
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusPanicked Status = "panicked"
)

// Report describes a single callback attempt
type Report struct {
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Err       error
}

// Failed reports whether the attempt did not succeed
func (r *Report) Failed() bool {
	return r.Status != StatusSuccess
}

// Executor runs callback attempts for one emitter and records their metrics
type Executor struct {
	name    string
	metrics metrics.MetricsCollector
}

// NewExecutor creates a new executor instance
func NewExecutor(name string) *Executor {
	return &Executor{
		name:    name,
		metrics: metrics.NewNoOpMetrics(), // Default to no-op
	}
}

// SetMetrics sets the metrics collector for this executor
func (e *Executor) SetMetrics(m metrics.MetricsCollector) {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	e.metrics = m
}

// Name returns the emitter name used as the metrics label
func (e *Executor) Name() string {
	return e.name
}

// Execute runs fn once on the calling goroutine. A panic inside fn is
// recovered and reported as StatusPanicked with a *recovery.PanicError.
func (e *Executor) Execute(fn func() error) *Report {
	report := &Report{StartTime: time.Now()}

	err := recovery.Call(fn)

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	report.Err = err

	var pe *recovery.PanicError
	switch {
	case err == nil:
		report.Status = StatusSuccess
	case errors.As(err, &pe):
		report.Status = StatusPanicked
	default:
		report.Status = StatusFailed
	}

	// Track metrics
	e.metrics.IncCallbacks(e.name, string(report.Status))
	e.metrics.ObserveCallbackDuration(e.name, report.Duration)

	return report
}
