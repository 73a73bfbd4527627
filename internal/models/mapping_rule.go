package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// MappingRule is operator-authored configuration describing how Rows of a
// document format become mutations against a business table.
//
// A rule is either a field-mapping rule (TargetTable, TargetMatchField and
// TargetUpdateField set) or a template rule (StatementTemplate set). Rules
// that are both or neither are configuration errors and get skipped.
type MappingRule struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	Name     string  `gorm:"column:name;not null;size:128;uniqueIndex" json:"name"`
	Format   *string `gorm:"column:format;size:64;index" json:"format"` // nil = every format
	IsActive bool    `gorm:"column:is_active;not null;index" json:"isActive"`
	Priority int     `gorm:"column:priority;not null" json:"priority"`

	// Row selection
	SourceRow        *int   `gorm:"column:source_row" json:"sourceRow"`
	SourceMatchField string `gorm:"column:source_match_field;size:255" json:"sourceMatchField"`
	SourceDataField  string `gorm:"column:source_data_field;size:255" json:"sourceDataField"`

	// Field-mapping target
	TargetTable          string `gorm:"column:target_table;size:255" json:"targetTable"`
	TargetMatchField     string `gorm:"column:target_match_field;size:255" json:"targetMatchField"`
	TargetUpdateField    string `gorm:"column:target_update_field;size:255" json:"targetUpdateField"`
	TargetTimestampField string `gorm:"column:target_timestamp_field;size:255" json:"targetTimestampField"`
	ExtraFilter          string `gorm:"column:extra_filter" json:"extraFilter"`

	// Template strategy
	StatementTemplate string         `gorm:"column:statement_template" json:"statementTemplate"`
	TemplateParams    datatypes.JSON `gorm:"column:template_params" json:"templateParams"`

	Description string    `gorm:"column:description" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName specifies the table name
func (MappingRule) TableName() string {
	return "mapping_rules"
}

// AppliesTo reports whether the rule's format filter admits format
func (r MappingRule) AppliesTo(format string) bool {
	if r.Format == nil || strings.TrimSpace(*r.Format) == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(*r.Format), strings.TrimSpace(format))
}
