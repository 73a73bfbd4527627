// Package runstate holds the state of the polling loop: the single-pass
// gate, the cooperative stop flag and the outcome of the latest pass.
package runstate

import (
	"sync"
	"sync/atomic"

	"github.com/xelth-com/reportsync/internal/models"
)

// State is owned by the pipeline loop and handed to every phase
type State struct {
	running atomic.Bool
	stop    atomic.Bool
	passes  atomic.Int64
	skipped atomic.Int64

	mu   sync.RWMutex
	last *models.PassHistory
}

// New returns an idle state
func New() *State {
	return &State{}
}

// TryAcquire claims the gate without blocking. It returns false when a
// pass is already running.
func (s *State) TryAcquire() bool {
	if s.running.CompareAndSwap(false, true) {
		s.passes.Add(1)
		return true
	}
	s.skipped.Add(1)
	return false
}

// Release frees the gate
func (s *State) Release() {
	s.running.Store(false)
}

// Running reports whether a pass holds the gate
func (s *State) Running() bool {
	return s.running.Load()
}

// RequestStop asks running phases to return at their next checkpoint
func (s *State) RequestStop() {
	s.stop.Store(true)
}

// StopRequested is checked between documents, statements and phases
func (s *State) StopRequested() bool {
	return s != nil && s.stop.Load()
}

// SetLast stores the summary of the pass that just finished
func (s *State) SetLast(p models.PassHistory) {
	s.mu.Lock()
	s.last = &p
	s.mu.Unlock()
}

// Last returns the most recent pass summary
func (s *State) Last() (models.PassHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.PassHistory{}, false
	}
	return *s.last, true
}

// Snapshot is a read-only view for status reporting
type Snapshot struct {
	Running       bool                `json:"running"`
	StopRequested bool                `json:"stopRequested"`
	Passes        int64               `json:"passes"`
	SkippedTicks  int64               `json:"skippedTicks"`
	LastPass      *models.PassHistory `json:"lastPass,omitempty"`
}

// Snapshot copies the current state
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Running:       s.Running(),
		StopRequested: s.StopRequested(),
		Passes:        s.passes.Load(),
		SkippedTicks:  s.skipped.Load(),
	}
	if last, ok := s.Last(); ok {
		snap.LastPass = &last
	}
	return snap
}
