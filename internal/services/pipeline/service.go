// Package pipeline drives the polling loop: every tick runs one pass made
// of the mapping phase followed by the execution phase.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/reportsync/internal/executor"
	"github.com/xelth-com/reportsync/internal/ledger"
	"github.com/xelth-com/reportsync/internal/mapping"
	"github.com/xelth-com/reportsync/internal/metrics"
	"github.com/xelth-com/reportsync/internal/models"
	"github.com/xelth-com/reportsync/internal/retry"
	"github.com/xelth-com/reportsync/internal/runstate"
	"go.uber.org/zap"
)

// ErrPassInProgress is returned when a pass is requested while another holds the gate
var ErrPassInProgress = errors.New("pass already in progress")

// Pass statuses stored in PassHistory
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
	StatusStopped = "stopped"
)

// Config holds loop settings
type Config struct {
	PollInterval time.Duration
	Retry        retry.Policy // for writing the pass summary
}

// Service orchestrates passes
type Service struct {
	generator *mapping.Generator
	executor  *executor.Executor
	ledger    *ledger.Ledger
	state     *runstate.State
	notifier  ledger.Notifier
	log       *zap.Logger
	cfg       Config

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the pass orchestrator
func NewService(gen *mapping.Generator, ex *executor.Executor, l *ledger.Ledger, log *zap.Logger, cfg Config) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		generator: gen,
		executor:  ex,
		ledger:    l,
		state:     runstate.New(),
		notifier:  ledger.NopNotifier{},
		log:       log.With(zap.String("component", "pipeline")),
		cfg:       cfg,
		stop:      make(chan struct{}),
	}
}

// WithNotifier sets the receiver of pass events
func (s *Service) WithNotifier(n ledger.Notifier) *Service {
	if n != nil {
		s.notifier = n
	}
	return s
}

// State exposes the run state for status reporting
func (s *Service) State() *runstate.State {
	return s.state
}

// Run starts with an immediate pass and then one per tick until ctx is
// cancelled or Stop is called. A tick that finds a pass still running is
// skipped. Run returns after the running pass has reached a checkpoint.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("pipeline started", zap.Duration("poll_interval", s.cfg.PollInterval))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.stop:
			s.shutdown()
			return nil
		}
	}
}

// Stop asks the loop and the running pass to finish
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) shutdown() {
	s.state.RequestStop()
	s.wg.Wait()
	s.log.Info("pipeline stopped")
}

// tick launches a pass without blocking the loop. The pass gets a context
// that survives cancellation so that a statement is never cut off between
// executing and recording; it stops at the next checkpoint instead.
func (s *Service) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunPass(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrPassInProgress) {
			s.log.Error("pass failed", zap.Error(err))
		}
	}()
}

// RunPass runs one mapping phase and one execution phase and stores the
// pass summary
func (s *Service) RunPass(ctx context.Context) (models.PassHistory, error) {
	if !s.state.TryAcquire() {
		metrics.RecordSkippedPass()
		s.log.Warn("previous pass still running, skipping tick")
		return models.PassHistory{}, ErrPassInProgress
	}
	defer s.state.Release()

	start := time.Now()
	p := models.PassHistory{
		RunID:     uuid.NewString(),
		Status:    StatusSuccess,
		StartedAt: start.UTC(),
	}
	log := s.log.With(zap.String("run_id", p.RunID))

	var passErr error
	phaseStart := time.Now()
	ms, err := s.generator.Run(ctx, s.state, p.RunID)
	metrics.RecordPhase("mapping", err, time.Since(phaseStart))
	applyMapping(&p, ms)
	if err != nil {
		passErr = fmt.Errorf("mapping phase: %w", err)
	} else if !s.state.StopRequested() {
		phaseStart = time.Now()
		es, err := s.executor.Run(ctx, s.state, p.RunID)
		metrics.RecordPhase("execution", err, time.Since(phaseStart))
		applyExecution(&p, es)
		if err != nil {
			passErr = fmt.Errorf("execution phase: %w", err)
		}
	}

	switch {
	case passErr != nil:
		p.Status = StatusError
		p.Errors++
		p.ErrorDetail = passErr.Error()
	case s.state.StopRequested():
		p.Status = StatusStopped
	case p.Errors > 0 || p.Failed > 0:
		p.Status = StatusPartial
	}

	done := time.Now()
	completed := done.UTC()
	p.CompletedAt = &completed
	p.Duration = done.Sub(start).Milliseconds()
	metrics.RecordPhase("pass", passErr, done.Sub(start))

	err = retry.Do(context.WithoutCancel(ctx), s.cfg.Retry, func(ctx context.Context) error {
		rec := p
		return s.ledger.RecordPass(ctx, &rec)
	})
	if err != nil {
		log.Error("failed to store pass summary", zap.Error(err))
	}
	s.state.SetLast(p)
	if err := metrics.Flush(); err != nil {
		log.Warn("metrics flush failed", zap.Error(err))
	}

	s.notifier.Notify(ledger.Event{
		Type:         ledger.EventPassCompleted,
		RunID:        p.RunID,
		Status:       p.Status,
		Count:        p.Executed,
		RowsAffected: p.RowsAffected,
		At:           completed,
	})
	log.Info("pass completed",
		zap.String("status", p.Status),
		zap.Int64("duration_ms", p.Duration),
		zap.Int("documents", p.Documents),
		zap.Int("generated", p.Generated),
		zap.Int("executed", p.Executed),
		zap.Int("succeeded", p.Succeeded),
		zap.Int("needs_retry", p.NeedsRetry),
		zap.Int("failed", p.Failed))
	return p, passErr
}

func applyMapping(p *models.PassHistory, s mapping.Summary) {
	p.Documents = s.Documents
	p.Generated = s.Generated
	p.Duplicates = s.Duplicates
	p.Rejected = s.Rejected
	p.NoTarget = s.NoTarget
	p.RuleIssues = s.RuleIssues
	p.Errors += s.Failed

	metrics.RecordStatements("generated", s.Generated)
	metrics.RecordStatements("duplicate", s.Duplicates)
	metrics.RecordStatements("rejected", s.Rejected)
	metrics.RecordStatements("no_target", s.NoTarget)
	metrics.RecordStatements("skipped", s.Skipped)
}

func applyExecution(p *models.PassHistory, s executor.Summary) {
	p.Executed = s.Succeeded + s.NeedsRetry + s.Failed
	p.Succeeded = s.Succeeded
	p.NeedsRetry = s.NeedsRetry
	p.Failed = s.Failed
	p.Skipped = s.Rejected
	p.RowsAffected = s.RowsAffected
	p.Errors += s.Errors
}
