package models

import (
	"time"

	"gorm.io/datatypes"
)

// Statement kinds
const (
	KindFieldMapping = "field_mapping"
	KindTemplate     = "template"
	KindManual       = "manual" // inserted by operators
)

// Statement lifecycle states kept in GeneratedStatement.LastStatus
const (
	StatusPending    = "pending"
	StatusSucceeded  = "succeeded"
	StatusNeedsRetry = "needs_retry"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusExhausted  = "exhausted"
)

// GeneratedStatement is one persisted, parameterized mutation candidate.
// Everything except the Last*/ExecutionCount bookkeeping is immutable once
// written.
type GeneratedStatement struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	Name               string            `gorm:"column:name;size:255" json:"name"`
	Kind               string            `gorm:"column:kind;not null;size:32;index" json:"kind"`
	StatementText      string            `gorm:"column:statement_text;not null" json:"statementText"`
	Parameters         datatypes.JSONMap `gorm:"column:parameters" json:"parameters"`
	Description        string            `gorm:"column:description" json:"description"`
	IsActive           bool              `gorm:"column:is_active;not null;index" json:"isActive"`
	ExecutionOrder     int               `gorm:"column:execution_order;not null;index" json:"executionOrder"`
	RequiresValidation bool              `gorm:"column:requires_validation;not null" json:"requiresValidation"`
	DocumentID         *string           `gorm:"column:document_id;size:36;index" json:"documentId"`
	RuleID             *uint             `gorm:"column:rule_id;index" json:"ruleId"`
	GenerationKey      string            `gorm:"column:generation_key;size:32;index" json:"generationKey"`

	// Execution bookkeeping
	LastExecutedAt   *time.Time `gorm:"column:last_executed_at;index" json:"lastExecutedAt"`
	LastResult       string     `gorm:"column:last_result" json:"lastResult"`
	LastStatus       string     `gorm:"column:last_status;size:32;default:pending;index" json:"lastStatus"`
	LastRowsAffected *int64     `gorm:"column:last_rows_affected" json:"lastRowsAffected"`
	ExecutionCount   int        `gorm:"column:execution_count;not null;default:0" json:"executionCount"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName specifies the table name
func (GeneratedStatement) TableName() string {
	return "generated_statements"
}

// Params returns the parameter map in the plain form gorm binds by name
func (s GeneratedStatement) Params() map[string]interface{} {
	if s.Parameters == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}(s.Parameters)
}

// ExecutionRecord is the append-only audit entry of one execution attempt
type ExecutionRecord struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	StatementID   uint              `gorm:"column:statement_id;not null;index" json:"statementId"`
	RunID         string            `gorm:"column:run_id;size:36;index" json:"runId"`
	StatementText string            `gorm:"column:statement_text;not null" json:"statementText"`
	Parameters    datatypes.JSONMap `gorm:"column:parameters" json:"parameters"`
	ExecutedAt    time.Time         `gorm:"column:executed_at;not null;index" json:"executedAt"`
	DurationMs    int64             `gorm:"column:duration_ms;default:0" json:"durationMs"`
	RowsAffected  int64             `gorm:"column:rows_affected;default:0" json:"rowsAffected"`
	Success       bool              `gorm:"column:success;not null" json:"success"`
	Outcome       string            `gorm:"column:outcome;size:32;not null" json:"outcome"` // succeeded, needs_retry, failed
	ErrorMessage  string            `gorm:"column:error_message" json:"errorMessage"`
	CreatedAt     time.Time         `gorm:"column:created_at" json:"-"`
}

// TableName specifies the table name
func (ExecutionRecord) TableName() string {
	return "execution_records"
}
