// Package executor runs pending ledger statements against the target store,
// one transaction per statement, and records every attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/ledger"
	"github.com/xelth-com/reportsync/internal/metrics"
	"github.com/xelth-com/reportsync/internal/models"
	"github.com/xelth-com/reportsync/internal/retry"
	"github.com/xelth-com/reportsync/internal/runstate"
	"github.com/xelth-com/reportsync/internal/sqlguard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrRejected marks a statement that failed re-validation
var ErrRejected = errors.New("statement rejected")

// Options configures an Executor
type Options struct {
	RowCap      int           // max rows one statement may change; 0 disables the cap
	BatchSize   int           // statements per pass
	StaleAfter  time.Duration // re-run succeeded statements after this
	MaxAttempts int           // unsuccessful runs before a statement is exhausted; 0 = unlimited
	ParseCheck  bool
	Retry       retry.Policy
}

// Executor runs the execution phase of a pass
type Executor struct {
	db       *gorm.DB
	dialect  database.Dialect
	ledger   *ledger.Ledger
	notifier ledger.Notifier
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

// New creates an execution-phase runner
func New(db *database.DB, l *ledger.Ledger, log *zap.Logger, opts Options) *Executor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
		opts.Retry.Retryable = database.IsTransient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		db:       db.DB,
		dialect:  db.Dialect,
		ledger:   l,
		notifier: ledger.NopNotifier{},
		log:      log.With(zap.String("component", "executor")),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier sets the receiver of execution events
func (e *Executor) WithNotifier(n ledger.Notifier) *Executor {
	if n != nil {
		e.notifier = n
	}
	return e
}

// Summary aggregates one execution phase
type Summary struct {
	Selected     int
	Succeeded    int
	NeedsRetry   int
	Failed       int
	Rejected     int
	Exhausted    int
	Errors       int // bookkeeping could not be written
	RowsAffected int64
}

func (s *Summary) add(o Outcome) {
	switch o.Outcome {
	case models.StatusSucceeded:
		s.Succeeded++
		s.RowsAffected += o.RowsAffected
	case models.StatusNeedsRetry:
		s.NeedsRetry++
	case models.StatusFailed:
		s.Failed++
	case models.StatusRejected:
		s.Rejected++
	}
	if o.Status == models.StatusExhausted {
		s.Exhausted++
	}
}

// Outcome is what one execution attempt did
type Outcome struct {
	StatementID  uint
	Outcome      string // succeeded, needs_retry, failed or rejected
	Status       string // stored status; exhausted once attempts run out
	Result       string
	RowsAffected int64
	Duration     time.Duration
	Err          error // execution error behind a failed outcome
}

// ResultText renders the bookkeeping text stored on a statement
func ResultText(outcome string, rows int64, err error) string {
	switch outcome {
	case models.StatusSucceeded:
		return fmt.Sprintf("success, %d rows", rows)
	case models.StatusNeedsRetry:
		return "zero rows, needs retry"
	default:
		if err != nil {
			return err.Error()
		}
		return outcome
	}
}

// Run executes the statements due now, in (execution_order, id) order
func (e *Executor) Run(ctx context.Context, state *runstate.State, runID string) (Summary, error) {
	var sum Summary
	log := e.log.With(zap.String("run_id", runID))

	stmts, err := retry.Value(ctx, e.opts.Retry, func(ctx context.Context) ([]models.GeneratedStatement, error) {
		return e.ledger.SelectPending(ctx, ledger.Selection{
			Now:         e.now(),
			StaleAfter:  e.opts.StaleAfter,
			MaxAttempts: e.opts.MaxAttempts,
			Limit:       e.opts.BatchSize,
		})
	})
	if err != nil {
		return sum, err
	}
	sum.Selected = len(stmts)
	if len(stmts) == 0 {
		return sum, nil
	}
	log.Info("executing statements", zap.Int("statements", len(stmts)))

	for _, stmt := range stmts {
		if state.StopRequested() || ctx.Err() != nil {
			log.Info("stop requested, leaving remaining statements for the next pass")
			break
		}

		out, err := e.Execute(ctx, stmt, runID)
		if err != nil {
			sum.Errors++
			log.Error("statement bookkeeping failed", zap.Uint("statement_id", stmt.ID), zap.Error(err))
			continue
		}
		sum.add(out)
		e.publish(runID, stmt, out)
	}
	return sum, nil
}

func (e *Executor) publish(runID string, stmt models.GeneratedStatement, out Outcome) {
	typ := ledger.EventStatementExecuted
	if out.Outcome == models.StatusRejected {
		typ = ledger.EventStatementRejected
	} else {
		metrics.RecordExecution(out.Outcome, out.RowsAffected, out.Duration)
	}
	docID := ""
	if stmt.DocumentID != nil {
		docID = *stmt.DocumentID
	}
	e.notifier.Notify(ledger.Event{
		Type:         typ,
		RunID:        runID,
		DocumentID:   docID,
		StatementID:  stmt.ID,
		Status:       out.Status,
		Result:       out.Result,
		RowsAffected: out.RowsAffected,
		At:           e.now(),
	})
}

// Execute re-validates stmt and runs it in its own transaction. The
// returned error is set only when the attempt could not be recorded; a
// failing statement is reported through Outcome.
func (e *Executor) Execute(ctx context.Context, stmt models.GeneratedStatement, runID string) (Outcome, error) {
	log := e.log.With(
		zap.String("run_id", runID),
		zap.Uint("statement_id", stmt.ID),
		zap.String("statement", stmt.Name))
	params := stmt.Params()
	start := time.Now()
	out := Outcome{StatementID: stmt.ID}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v := sqlguard.Validator{}
		if e.opts.ParseCheck {
			v.Parser = database.ParseChecker(e.dialect, tx)
		}
		if verdict := v.Check(ctx, stmt.StatementText, params); !verdict.OK {
			if err := e.ledger.WithTx(tx).MarkRejected(ctx, stmt.ID, verdict.Reason); err != nil {
				return err
			}
			out.Outcome, out.Status = models.StatusRejected, models.StatusRejected
			out.Result = "rejected: " + verdict.Reason
			out.Err = fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
			return nil
		}

		rows, err := e.dialect.ExecCapped(ctx, tx, stmt.StatementText, params, e.opts.RowCap)
		if err != nil {
			return err
		}

		outcome := models.StatusSucceeded
		if rows == 0 {
			outcome = models.StatusNeedsRetry
		}
		rec := e.record(stmt, runID, start, rows, outcome, nil)
		result := ResultText(outcome, rows, nil)
		status, err := e.ledger.WithTx(tx).RecordExecution(ctx, stmt, rec, result, e.opts.MaxAttempts)
		if err != nil {
			return err
		}
		out.Outcome, out.Status, out.Result, out.RowsAffected = outcome, status, result, rows
		return nil
	})
	out.Duration = time.Since(start)

	if err == nil {
		if out.Outcome == models.StatusRejected {
			log.Warn("statement rejected at execution", zap.String("reason", out.Result))
		} else {
			log.Info("statement executed",
				zap.String("status", out.Status),
				zap.Int64("rows", out.RowsAffected),
				zap.Duration("duration", out.Duration))
		}
		return out, nil
	}

	// Rolled back: nothing the statement did is kept. The failure is
	// recorded on its own transaction so the attempt still counts.
	return e.recordFailure(ctx, stmt, runID, start, err, log)
}

func (e *Executor) recordFailure(ctx context.Context, stmt models.GeneratedStatement, runID string, start time.Time, execErr error, log *zap.Logger) (Outcome, error) {
	result := ResultText(models.StatusFailed, 0, execErr)
	rctx := context.WithoutCancel(ctx)

	status, err := retry.Value(rctx, e.opts.Retry, func(ctx context.Context) (string, error) {
		var status string
		err := e.ledger.Transaction(ctx, func(l *ledger.Ledger) error {
			rec := e.record(stmt, runID, start, 0, models.StatusFailed, execErr)
			var err error
			status, err = l.RecordExecution(ctx, stmt, rec, result, e.opts.MaxAttempts)
			return err
		})
		return status, err
	})
	out := Outcome{
		StatementID: stmt.ID,
		Outcome:     models.StatusFailed,
		Status:      status,
		Result:      result,
		Duration:    time.Since(start),
		Err:         execErr,
	}
	if err != nil {
		return out, fmt.Errorf("record failure of statement %d: %w", stmt.ID, err)
	}

	fields := []zap.Field{zap.String("status", status), zap.Error(execErr)}
	if errors.Is(execErr, database.ErrRowCapExceeded) {
		log.Warn("statement exceeded the row cap, rolled back", fields...)
	} else {
		log.Error("statement failed, rolled back", fields...)
	}
	return out, nil
}

func (e *Executor) record(stmt models.GeneratedStatement, runID string, start time.Time, rows int64, outcome string, execErr error) *models.ExecutionRecord {
	rec := &models.ExecutionRecord{
		RunID:         runID,
		StatementText: stmt.StatementText,
		Parameters:    stmt.Parameters,
		ExecutedAt:    e.now(),
		DurationMs:    time.Since(start).Milliseconds(),
		RowsAffected:  rows,
		Success:       outcome == models.StatusSucceeded,
		Outcome:       outcome,
	}
	if execErr != nil {
		rec.ErrorMessage = execErr.Error()
	}
	return rec
}
