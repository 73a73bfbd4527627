package prom

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/xelth-com/reportsync/internal/metrics"
)

func readCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCountersAndHistograms(t *testing.T) {
	b, err := NewBackend(Config{})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}

	b.IncCounter(metrics.ExecutionsTotal, 1, metrics.Labels{"outcome": "succeeded"})
	b.IncCounter(metrics.ExecutionsTotal, 2, metrics.Labels{"outcome": "succeeded"})
	b.IncCounter(metrics.RowsAffectedTotal, 7, nil)
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram(metrics.PhaseDuration, 0.2, metrics.Labels{"phase": "mapping", "status": "success"})

	if got := readCounter(t, b.counters[metrics.ExecutionsTotal].WithLabelValues("succeeded")); got != 3 {
		t.Errorf("executions = %v, want 3", got)
	}
	if got := readCounter(t, b.counters[metrics.RowsAffectedTotal].WithLabelValues()); got != 7 {
		t.Errorf("rows = %v, want 7", got)
	}

	families, err := b.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == metrics.PhaseDuration {
			found = f.GetMetric()[0].GetHistogram().GetSampleCount() == 1
		}
	}
	if !found {
		t.Error("phase duration histogram not gathered")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	b, err := NewBackend(Config{})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	b.IncCounter(metrics.SkippedPassesTotal, 1, nil)

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), metrics.SkippedPassesTotal+" 1") {
		t.Errorf("skipped pass counter missing from exposition:\n%s", body)
	}
}

func TestFlushPushesToGateway(t *testing.T) {
	var pushes atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/metrics/job/reportsync") {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	b, err := NewBackend(Config{PushgatewayURL: gw.URL})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	metrics.SetBackend(b)
	metrics.RecordPhase("pass", nil, time.Second)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if pushes.Load() != 1 {
		t.Errorf("expected one push, got %d", pushes.Load())
	}

	noPush, _ := NewBackend(Config{})
	if err := noPush.Flush(); err != nil {
		t.Errorf("Flush without gateway should be a no-op, got %v", err)
	}
}
