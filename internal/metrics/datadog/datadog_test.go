package datadog

import (
	"reflect"
	"testing"

	"github.com/xelth-com/reportsync/internal/metrics"
)

type call struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	calls   []call
	flushed int
	closed  bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, rate float64) error {
	f.calls = append(f.calls, call{"count", name, float64(value), tags})
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, rate float64) error {
	f.calls = append(f.calls, call{"histogram", name, value, tags})
	return nil
}

func (f *fakeClient) Flush() error { f.flushed++; return nil }
func (f *fakeClient) Close() error { f.closed = true; return nil }

func TestNewBackendRequiresAddr(t *testing.T) {
	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("expected an error without Addr")
	}
}

func TestBackendForwardsToClient(t *testing.T) {
	fc := &fakeClient{}
	b := &Backend{client: fc}

	b.IncCounter(metrics.ExecutionsTotal, 2.9, metrics.Labels{"outcome": "failed"})
	b.ObserveHistogram(metrics.PhaseDuration, 1.5, metrics.Labels{"status": "success", "phase": "mapping"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []call{
		{"count", metrics.ExecutionsTotal, 2, []string{"outcome:failed"}},
		{"histogram", metrics.PhaseDuration, 1.5, []string{"phase:mapping", "status:success"}},
	}
	if !reflect.DeepEqual(fc.calls, want) {
		t.Errorf("calls = %+v, want %+v", fc.calls, want)
	}
	if fc.flushed != 1 || !fc.closed {
		t.Errorf("flush/close not forwarded: flushed=%d closed=%v", fc.flushed, fc.closed)
	}
}

func TestLabelsToTags(t *testing.T) {
	if got := labelsToTags(nil); got != nil {
		t.Errorf("nil labels should give nil tags, got %v", got)
	}
	got := labelsToTags(metrics.Labels{"b": "2", "a": "1"})
	if !reflect.DeepEqual(got, []string{"a:1", "b:2"}) {
		t.Errorf("unexpected tags: %v", got)
	}
}
