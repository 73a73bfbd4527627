// Package prom is the Prometheus backend for the metrics package. It keeps
// its own registry, serves it for scraping and optionally pushes it to a
// Pushgateway on Flush.
package prom

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/xelth-com/reportsync/internal/metrics"
)

// Config for the Prometheus backend
type Config struct {
	JobName        string // Pushgateway grouping job
	PushgatewayURL string // empty disables pushing
}

// Backend implements metrics.Backend on client_golang collectors
type Backend struct {
	cfg Config
	reg *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewBackend registers the pipeline collectors on a fresh registry
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.JobName == "" {
		cfg.JobName = "reportsync"
	}
	b := &Backend{
		cfg:        cfg,
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		labelNames: map[string][]string{},
	}

	counters := []struct {
		name, help string
		labels     []string
	}{
		{metrics.PhaseTotal, "Pass phases run, by phase and status.", []string{"phase", "status"}},
		{metrics.StatementsTotal, "Generation outcomes, by kind.", []string{"kind"}},
		{metrics.ExecutionsTotal, "Statement executions, by outcome.", []string{"outcome"}},
		{metrics.RowsAffectedTotal, "Target rows changed by committed executions.", nil},
		{metrics.SkippedPassesTotal, "Ticks skipped because a pass was still running.", nil},
	}
	for _, c := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help}, c.labels)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prom: register %s: %w", c.name, err)
		}
		b.counters[c.name] = vec
		b.labelNames[c.name] = c.labels
	}

	histograms := []struct {
		name, help string
		labels     []string
		buckets    []float64
	}{
		{metrics.PhaseDuration, "Pass phase duration in seconds.", []string{"phase", "status"}, prometheus.ExponentialBuckets(0.01, 4, 8)},
		{metrics.ExecutionDuration, "Statement execution duration in seconds.", []string{"outcome"}, prometheus.DefBuckets},
	}
	for _, h := range histograms {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: h.name, Help: h.help, Buckets: h.buckets}, h.labels)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prom: register %s: %w", h.name, err)
		}
		b.histograms[h.name] = vec
		b.labelNames[h.name] = h.labels
	}

	if err := b.reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("prom: register go collector: %w", err)
	}
	return b, nil
}

func (b *Backend) values(name string, labels metrics.Labels) []string {
	names := b.labelNames[name]
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	vec, ok := b.counters[name]
	if !ok || delta < 0 {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	vec, ok := b.histograms[name]
	if !ok {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Observe(value)
}

// Flush pushes the registry when a Pushgateway is configured
func (b *Backend) Flush() error {
	if b.cfg.PushgatewayURL == "" {
		return nil
	}
	if err := push.New(b.cfg.PushgatewayURL, b.cfg.JobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prom: push: %w", err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg})
}

// Gatherer exposes the registry, mainly for tests
func (b *Backend) Gatherer() prometheus.Gatherer {
	return b.reg
}
