package mapping

import (
	"errors"
	"strings"
	"testing"

	"github.com/xelth-com/reportsync/internal/models"
	"gorm.io/datatypes"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func fieldRule(id uint, name, data, column string) models.MappingRule {
	return models.MappingRule{
		ID:                id,
		Name:              name,
		IsActive:          true,
		SourceMatchField:  "sn",
		SourceDataField:   data,
		TargetTable:       "target",
		TargetMatchField:  "sn",
		TargetUpdateField: column,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		rule    models.MappingRule
		wantErr string
		perRow  bool
	}{
		{
			name: "field rule",
			rule: fieldRule(1, "f", "result", "result"),
		},
		{
			name:    "both strategies",
			rule:    func() models.MappingRule { r := fieldRule(1, "f", "result", "result"); r.StatementTemplate = "UPDATE x SET a = 1 WHERE b = 2"; return r }(),
			wantErr: "both",
		},
		{
			name:    "neither strategy",
			rule:    models.MappingRule{Name: "empty", IsActive: true},
			wantErr: "neither",
		},
		{
			name:    "missing source fields",
			rule:    func() models.MappingRule { r := fieldRule(1, "f", "", "result"); return r }(),
			wantErr: "required",
		},
		{
			name:    "identifier injection",
			rule:    fieldRule(1, "f", "result", "result = 1; DROP TABLE x; --"),
			wantErr: "plain identifier",
		},
		{
			name:    "stacked extra filter",
			rule:    func() models.MappingRule { r := fieldRule(1, "f", "result", "result"); r.ExtraFilter = "1=1; DELETE FROM x"; return r }(),
			wantErr: "single condition",
		},
		{
			name: "document template",
			rule: models.MappingRule{Name: "t", IsActive: true, StatementTemplate: "UPDATE units SET report = @f WHERE serial = @sn",
				TemplateParams: datatypes.JSON(`{"f":"{FileName}","sn":"{SerialNumber}"}`)},
		},
		{
			name:   "row template with selector",
			rule:   models.MappingRule{Name: "t", IsActive: true, StatementTemplate: "UPDATE units SET v = @v WHERE serial = '{SerialNumber}'", SourceDataField: "torque", TemplateParams: datatypes.JSON(`{"v":"{RowValue}"}`)},
			perRow: true,
		},
		{
			name:    "row template without selector",
			rule:    models.MappingRule{Name: "t", IsActive: true, StatementTemplate: "UPDATE units SET v = '{RowValue}' WHERE serial = '{SerialNumber}'"},
			wantErr: "no row selector",
		},
		{
			name:    "unknown placeholder",
			rule:    models.MappingRule{Name: "t", IsActive: true, StatementTemplate: "UPDATE units SET v = '{Bogus}' WHERE id = 1"},
			wantErr: "unknown placeholder",
		},
		{
			name:    "malformed params",
			rule:    models.MappingRule{Name: "t", IsActive: true, StatementTemplate: "UPDATE units SET v = @v WHERE id = 1", TemplateParams: datatypes.JSON(`[1,2]`)},
			wantErr: "JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.rule)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got rule %+v", tt.wantErr, got)
				}
				if !errors.Is(err, ErrRuleConfig) {
					t.Errorf("error should wrap ErrRuleConfig: %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr, ok := got.(TemplateRule); ok && tr.PerRow() != tt.perRow {
				t.Errorf("PerRow() = %v, want %v", tr.PerRow(), tt.perRow)
			}
		})
	}
}

func TestResolveGroupsAndFilters(t *testing.T) {
	ts := fieldRule(3, "timestamp", "result", "result")
	ts.TargetTimestampField = "updated"
	ts.Priority = 5

	other := fieldRule(4, "other format", "x", "x")
	other.Format = strPtr("spreadsheet")

	inactive := fieldRule(5, "inactive", "y", "y")
	inactive.IsActive = false

	operator := fieldRule(2, "operator", "operator", "operator")
	operator.Priority = 5
	operator.Format = strPtr("REPORT")

	broken := models.MappingRule{ID: 6, Name: "broken", IsActive: true}

	rs := Resolve([]models.MappingRule{ts, other, inactive, operator, broken}, "report")

	if len(rs.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(rs.Groups))
	}
	grp := rs.Groups[0]
	if len(grp.Rules) != 2 || grp.Rules[0].Name != "operator" || grp.Rules[1].Name != "timestamp" {
		t.Errorf("rules not merged in (priority, id) order: %+v", grp.Rules)
	}
	if grp.TimestampColumn != "updated" {
		t.Errorf("timestamp column not carried into group: %q", grp.TimestampColumn)
	}
	if len(rs.Issues) != 1 || rs.Issues[0].RuleID != 6 {
		t.Errorf("expected the broken rule as the only issue, got %+v", rs.Issues)
	}

	if !Resolve(nil, "report").Empty() {
		t.Error("no rules should resolve to an empty set")
	}

	rowOnly := fieldRule(7, "row one", "result", "result")
	rowOnly.SourceRow = intPtr(1)
	rs = Resolve([]models.MappingRule{rowOnly}, "anything")
	if rs.Empty() || rs.Groups[0].Rules[0].SourceRow == nil {
		t.Error("row-restricted rule should still resolve for a format-less filter")
	}
}
