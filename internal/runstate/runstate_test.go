package runstate

import (
	"sync"
	"testing"

	"github.com/xelth-com/reportsync/internal/models"
)

func TestGateIsExclusive(t *testing.T) {
	s := New()

	if !s.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if s.TryAcquire() {
		t.Fatal("second acquire should fail while running")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
	s.Release()

	snap := s.Snapshot()
	if snap.Passes != 2 || snap.SkippedTicks != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
}

func TestGateUnderContention(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAcquire() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestStopAndLast(t *testing.T) {
	s := New()
	if s.StopRequested() {
		t.Error("new state should not be stopping")
	}
	s.RequestStop()
	if !s.StopRequested() {
		t.Error("stop flag not set")
	}

	var nilState *State
	if nilState.StopRequested() {
		t.Error("nil state should never report stop")
	}

	if _, ok := s.Last(); ok {
		t.Error("no pass recorded yet")
	}
	s.SetLast(models.PassHistory{RunID: "run-1", Generated: 3})
	last, ok := s.Last()
	if !ok || last.RunID != "run-1" || last.Generated != 3 {
		t.Errorf("unexpected last pass: %+v", last)
	}
	if snap := s.Snapshot(); snap.LastPass == nil || snap.LastPass.RunID != "run-1" {
		t.Errorf("snapshot missing last pass: %+v", snap)
	}
}
