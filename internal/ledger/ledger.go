// Package ledger is the persistence side of generated statements: it
// writes new candidates, selects the ones due for execution and records
// every attempt.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xelth-com/reportsync/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that match nothing
var ErrNotFound = errors.New("not found")

// Ledger reads and writes the statement and execution tables
type Ledger struct {
	db *gorm.DB
}

// New creates a ledger on db
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger bound to an open transaction
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Transaction runs fn with a ledger bound to a new transaction
func (l *Ledger) Transaction(ctx context.Context, fn func(*Ledger) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(l.WithTx(tx))
	})
}

// ExistingKeys returns the subset of keys already present
func (l *Ledger) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	var existing []string
	err := l.db.WithContext(ctx).
		Model(&models.GeneratedStatement{}).
		Where("generation_key IN ?", keys).
		Pluck("generation_key", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("lookup generation keys: %w", err)
	}
	for _, k := range existing {
		found[k] = true
	}
	return found, nil
}

// Persist inserts statements whose generation key is not yet in the ledger
// and reports how many were new and how many were suppressed
func (l *Ledger) Persist(ctx context.Context, stmts []*models.GeneratedStatement) (inserted, duplicates int, err error) {
	if len(stmts) == 0 {
		return 0, 0, nil
	}

	keys := make([]string, 0, len(stmts))
	for _, s := range stmts {
		if s.GenerationKey != "" {
			keys = append(keys, s.GenerationKey)
		}
	}
	existing, err := l.ExistingKeys(ctx, keys)
	if err != nil {
		return 0, 0, err
	}

	fresh := make([]*models.GeneratedStatement, 0, len(stmts))
	for _, s := range stmts {
		if s.GenerationKey != "" {
			if existing[s.GenerationKey] {
				duplicates++
				continue
			}
			existing[s.GenerationKey] = true
		}
		if s.LastStatus == "" {
			s.LastStatus = models.StatusPending
		}
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 {
		return 0, duplicates, nil
	}

	if err := l.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		return 0, duplicates, fmt.Errorf("insert statements: %w", err)
	}
	return len(fresh), duplicates, nil
}

// Selection parameterizes SelectPending
type Selection struct {
	Now         time.Time
	StaleAfter  time.Duration // succeeded statements become due again after this
	MaxAttempts int           // 0 = unlimited retries
	Limit       int
}

// SelectPending returns active statements due for execution in
// (execution_order, id) order: never executed, retryable after a zero-row
// or failed run, or succeeded longer than StaleAfter ago
func (l *Ledger) SelectPending(ctx context.Context, sel Selection) ([]models.GeneratedStatement, error) {
	now := sel.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	conds := []string{
		"last_status IS NULL OR last_status IN ? OR last_executed_at IS NULL",
	}
	args := []interface{}{[]string{"", models.StatusPending}}

	if sel.MaxAttempts > 0 {
		conds = append(conds, "last_status IN ? AND execution_count < ?")
		args = append(args, []string{models.StatusNeedsRetry, models.StatusFailed}, sel.MaxAttempts)
	} else {
		conds = append(conds, "last_status IN ?")
		args = append(args, []string{models.StatusNeedsRetry, models.StatusFailed})
	}

	if sel.StaleAfter > 0 {
		conds = append(conds, "last_status = ? AND last_executed_at < ?")
		args = append(args, models.StatusSucceeded, now.Add(-sel.StaleAfter).UTC())
	}

	q := l.db.WithContext(ctx).
		Model(&models.GeneratedStatement{}).
		Where("is_active = ?", true).
		Where("(last_status IS NULL OR last_status NOT IN ?)", []string{models.StatusRejected, models.StatusExhausted}).
		Where("(("+strings.Join(conds, ") OR (")+"))", args...).
		Order("execution_order ASC").
		Order("id ASC")
	if sel.Limit > 0 {
		q = q.Limit(sel.Limit)
	}

	var out []models.GeneratedStatement
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("select pending statements: %w", err)
	}
	return out, nil
}

// RecordExecution appends rec and updates the statement's bookkeeping.
// It returns the status stored on the statement, which is "exhausted" once
// an unsuccessful statement has used up maxAttempts.
func (l *Ledger) RecordExecution(ctx context.Context, stmt models.GeneratedStatement, rec *models.ExecutionRecord, result string, maxAttempts int) (string, error) {
	db := l.db.WithContext(ctx)

	rec.StatementID = stmt.ID
	if err := db.Create(rec).Error; err != nil {
		return "", fmt.Errorf("insert execution record: %w", err)
	}

	status := rec.Outcome
	if status != models.StatusSucceeded && maxAttempts > 0 && stmt.ExecutionCount+1 >= maxAttempts {
		status = models.StatusExhausted
	}

	rows := rec.RowsAffected
	err := db.Model(&models.GeneratedStatement{}).
		Where("id = ?", stmt.ID).
		Updates(map[string]interface{}{
			"last_executed_at":   rec.ExecutedAt,
			"last_result":        result,
			"last_status":        status,
			"last_rows_affected": rows,
			"execution_count":    gorm.Expr("execution_count + ?", 1),
		}).Error
	if err != nil {
		return "", fmt.Errorf("update statement bookkeeping: %w", err)
	}
	return status, nil
}

// MarkRejected flags a statement that failed re-validation. It is kept for
// operator inspection and never selected again.
func (l *Ledger) MarkRejected(ctx context.Context, id uint, reason string) error {
	err := l.db.WithContext(ctx).
		Model(&models.GeneratedStatement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_status": models.StatusRejected,
			"last_result": "rejected: " + reason,
		}).Error
	if err != nil {
		return fmt.Errorf("mark statement %d rejected: %w", id, err)
	}
	return nil
}

// RecordPass stores a pass summary
func (l *Ledger) RecordPass(ctx context.Context, p *models.PassHistory) error {
	if err := l.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert pass history: %w", err)
	}
	return nil
}
