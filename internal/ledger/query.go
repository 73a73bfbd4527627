package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/reportsync/internal/models"
	"gorm.io/gorm"
)

const maxPageSize = 500

// StatementFilter narrows ListStatements
type StatementFilter struct {
	Status     string
	Kind       string
	DocumentID string
	Limit      int
	Offset     int
}

func pageSize(n int) int {
	if n <= 0 {
		return 50
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// ListStatements returns statements newest first
func (l *Ledger) ListStatements(ctx context.Context, f StatementFilter) ([]models.GeneratedStatement, error) {
	q := l.db.WithContext(ctx).Model(&models.GeneratedStatement{})
	if f.Status != "" {
		q = q.Where("last_status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.DocumentID != "" {
		q = q.Where("document_id = ?", f.DocumentID)
	}

	var out []models.GeneratedStatement
	err := q.Order("id DESC").Limit(pageSize(f.Limit)).Offset(f.Offset).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	return out, nil
}

// GetStatement loads one statement by id
func (l *Ledger) GetStatement(ctx context.Context, id uint) (*models.GeneratedStatement, error) {
	var s models.GeneratedStatement
	err := l.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get statement %d: %w", id, err)
	}
	return &s, nil
}

// Executions returns the attempts of one statement, newest first
func (l *Ledger) Executions(ctx context.Context, statementID uint, limit int) ([]models.ExecutionRecord, error) {
	var out []models.ExecutionRecord
	err := l.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("id DESC").
		Limit(pageSize(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

// ListDocuments returns documents newest first, optionally filtered by the
// processed flag
func (l *Ledger) ListDocuments(ctx context.Context, processed *bool, limit int) ([]models.Document, error) {
	q := l.db.WithContext(ctx).Model(&models.Document{})
	if processed != nil {
		q = q.Where("processed = ?", *processed)
	}

	var out []models.Document
	if err := q.Order("created_at DESC").Limit(pageSize(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// StatusCounts tallies statements by lifecycle status
func (l *Ledger) StatusCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := l.db.WithContext(ctx).
		Model(&models.GeneratedStatement{}).
		Select("last_status AS status, COUNT(*) AS n").
		Group("last_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count statements: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		status := r.Status
		if status == "" {
			status = models.StatusPending
		}
		out[status] += r.N
	}
	return out, nil
}

// RecentPasses returns the latest pass summaries
func (l *Ledger) RecentPasses(ctx context.Context, limit int) ([]models.PassHistory, error) {
	var out []models.PassHistory
	if err := l.db.WithContext(ctx).Order("id DESC").Limit(pageSize(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	return out, nil
}
