// Package metrics records pipeline measurements through a pluggable
// Backend. The default backend drops everything, so callers never need to
// check whether metrics are configured.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend
const (
	PhaseTotal         = "reportsync_phase_total"
	PhaseDuration      = "reportsync_phase_duration_seconds"
	StatementsTotal    = "reportsync_statements_total"
	ExecutionsTotal    = "reportsync_executions_total"
	ExecutionDuration  = "reportsync_execution_duration_seconds"
	RowsAffectedTotal  = "reportsync_rows_affected_total"
	SkippedPassesTotal = "reportsync_skipped_passes_total"
)

// Labels are attached to a single observation
type Labels map[string]string

// Backend is implemented by the concrete metric systems
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered data where the backend needs it
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil backend leaves the current one in place.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the installed backend
func Flush() error {
	return current().Flush()
}

// RecordPhase counts one run of a pass phase ("mapping", "execution",
// "pass") and its duration
func RecordPhase(phase string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"phase": phase, "status": status}
	b := current()
	b.IncCounter(PhaseTotal, 1, lbls)
	b.ObserveHistogram(PhaseDuration, d.Seconds(), lbls)
}

// RecordStatements counts generation outcomes by kind: generated,
// duplicate, rejected, no_target, skipped
func RecordStatements(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(StatementsTotal, float64(n), Labels{"kind": kind})
}

// RecordExecution counts one statement execution by outcome
func RecordExecution(outcome string, rows int64, d time.Duration) {
	b := current()
	lbls := Labels{"outcome": outcome}
	b.IncCounter(ExecutionsTotal, 1, lbls)
	b.ObserveHistogram(ExecutionDuration, d.Seconds(), lbls)
	if rows > 0 {
		b.IncCounter(RowsAffectedTotal, float64(rows), nil)
	}
}

// RecordSkippedPass counts a tick that found a pass still running
func RecordSkippedPass() {
	current().IncCounter(SkippedPassesTotal, 1, nil)
}
