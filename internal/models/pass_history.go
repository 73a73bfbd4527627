package models

import "time"

// PassHistory records each pipeline pass (mapping phase then execution phase)
type PassHistory struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID       string     `gorm:"column:run_id;size:36;not null;uniqueIndex" json:"runId"`
	Status      string     `gorm:"column:status;size:32;not null;index" json:"status"` // "success", "partial", "error", "stopped"
	StartedAt   time.Time  `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt"`
	Duration    int64      `gorm:"column:duration;default:0" json:"duration"` // milliseconds

	// Mapping phase
	Documents  int `gorm:"column:documents;default:0" json:"documents"`
	Generated  int `gorm:"column:generated;default:0" json:"generated"`
	Duplicates int `gorm:"column:duplicates;default:0" json:"duplicates"`
	Rejected   int `gorm:"column:rejected;default:0" json:"rejected"`
	NoTarget   int `gorm:"column:no_target;default:0" json:"noTarget"`
	RuleIssues int `gorm:"column:rule_issues;default:0" json:"ruleIssues"`

	// Execution phase
	Executed     int   `gorm:"column:executed;default:0" json:"executed"`
	Succeeded    int   `gorm:"column:succeeded;default:0" json:"succeeded"`
	NeedsRetry   int   `gorm:"column:needs_retry;default:0" json:"needsRetry"`
	Failed       int   `gorm:"column:failed;default:0" json:"failed"`
	Skipped      int   `gorm:"column:skipped;default:0" json:"skipped"` // rejected at execution time
	RowsAffected int64 `gorm:"column:rows_affected;default:0" json:"rowsAffected"`

	Errors      int    `gorm:"column:errors;default:0" json:"errors"`
	ErrorDetail string `gorm:"column:error_detail" json:"errorDetail"`

	CreatedAt time.Time `gorm:"column:created_at" json:"-"`
}

// TableName specifies the table name
func (PassHistory) TableName() string {
	return "pass_history"
}

// All lists every table this service migrates. Business tables are never
// part of it.
func All() []interface{} {
	return []interface{}{
		&Document{},
		&Row{},
		&MappingRule{},
		&GeneratedStatement{},
		&ExecutionRecord{},
		&PassHistory{},
	}
}
