package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xelth-com/reportsync/internal/models"
	"gorm.io/gorm"
)

// ErrRuleConfig marks a rule that cannot be used as configured
var ErrRuleConfig = errors.New("invalid mapping rule")

// Target identifiers are emitted unquoted, so only plain (optionally
// schema-qualified) names are accepted.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Rule is one classified mapping rule: a FieldRule or a TemplateRule
type Rule interface {
	RuleID() uint
	RuleName() string
	rule()
}

// FieldRule copies one source field into one target column
type FieldRule struct {
	ID                   uint
	Name                 string
	Priority             int
	SourceRow            *int
	SourceMatchField     string
	SourceDataField      string
	TargetTable          string
	TargetMatchField     string
	TargetUpdateField    string
	TargetTimestampField string
	ExtraFilter          string
}

func (r FieldRule) RuleID() uint     { return r.ID }
func (r FieldRule) RuleName() string { return r.Name }
func (FieldRule) rule()              {}

// TemplateRule expands an operator-written statement template
type TemplateRule struct {
	ID              uint
	Name            string
	Priority        int
	Template        string
	Params          map[string]string
	SourceRow       *int
	SourceDataField string
	Description     string

	usesRow  bool
	perField bool
}

func (r TemplateRule) RuleID() uint     { return r.ID }
func (r TemplateRule) RuleName() string { return r.Name }
func (TemplateRule) rule()              {}

// PerRow reports whether the template is expanded once per selected row
func (r TemplateRule) PerRow() bool { return r.usesRow }

// FieldGroup merges field rules that write the same target row
type FieldGroup struct {
	Table            string
	MatchColumn      string
	SourceMatchField string
	ExtraFilter      string
	TimestampColumn  string
	Rules            []FieldRule
}

// Priority orders the group's statements in the ledger
func (g FieldGroup) Priority() int {
	if len(g.Rules) == 0 {
		return 0
	}
	return g.Rules[0].Priority
}

// Key identifies the group independently of rule order
func (g FieldGroup) Key() string {
	return strings.Join([]string{
		strings.ToLower(g.Table),
		strings.ToLower(g.MatchColumn),
		NormalizeField(g.SourceMatchField),
		strings.TrimSpace(g.ExtraFilter),
	}, "|")
}

// RuleIssue is a rule that was skipped and why
type RuleIssue struct {
	RuleID uint
	Rule   string
	Reason string
}

// RuleSet is the resolved configuration for one document format
type RuleSet struct {
	Format    string
	Groups    []FieldGroup
	Templates []TemplateRule
	Issues    []RuleIssue
}

// Empty reports whether nothing applies to the format
func (rs RuleSet) Empty() bool {
	return len(rs.Groups) == 0 && len(rs.Templates) == 0
}

// LoadRules reads every active rule in (priority, id) order
func LoadRules(ctx context.Context, db *gorm.DB) ([]models.MappingRule, error) {
	var rules []models.MappingRule
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority ASC").
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load mapping rules: %w", err)
	}
	return rules, nil
}

// Resolve selects the active rules for format, classifies each once and
// groups field rules by target row
func Resolve(rules []models.MappingRule, format string) RuleSet {
	sorted := make([]models.MappingRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive && r.AppliesTo(format) {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	rs := RuleSet{Format: format}
	groupIdx := map[string]int{}

	for _, r := range sorted {
		classified, err := Classify(r)
		if err != nil {
			rs.Issues = append(rs.Issues, RuleIssue{RuleID: r.ID, Rule: r.Name, Reason: err.Error()})
			continue
		}

		switch cr := classified.(type) {
		case TemplateRule:
			rs.Templates = append(rs.Templates, cr)
		case FieldRule:
			g := FieldGroup{
				Table:            cr.TargetTable,
				MatchColumn:      cr.TargetMatchField,
				SourceMatchField: cr.SourceMatchField,
				ExtraFilter:      strings.TrimSpace(cr.ExtraFilter),
			}
			key := g.Key()
			idx, ok := groupIdx[key]
			if !ok {
				idx = len(rs.Groups)
				groupIdx[key] = idx
				rs.Groups = append(rs.Groups, g)
			}
			grp := &rs.Groups[idx]
			if grp.TimestampColumn == "" {
				grp.TimestampColumn = cr.TargetTimestampField
			}
			grp.Rules = append(grp.Rules, cr)
		}
	}
	return rs
}

// Classify decides a rule's strategy and checks its configuration
func Classify(r models.MappingRule) (Rule, error) {
	hasTemplate := strings.TrimSpace(r.StatementTemplate) != ""
	hasTarget := strings.TrimSpace(r.TargetUpdateField) != ""

	switch {
	case hasTemplate && hasTarget:
		return nil, fmt.Errorf("%w: both a statement template and a target update field are set", ErrRuleConfig)
	case hasTemplate:
		return classifyTemplate(r)
	case hasTarget:
		return classifyField(r)
	default:
		return nil, fmt.Errorf("%w: neither a statement template nor a target update field is set", ErrRuleConfig)
	}
}

func classifyField(r models.MappingRule) (Rule, error) {
	fr := FieldRule{
		ID:                   r.ID,
		Name:                 r.Name,
		Priority:             r.Priority,
		SourceRow:            r.SourceRow,
		SourceMatchField:     strings.TrimSpace(r.SourceMatchField),
		SourceDataField:      strings.TrimSpace(r.SourceDataField),
		TargetTable:          strings.TrimSpace(r.TargetTable),
		TargetMatchField:     strings.TrimSpace(r.TargetMatchField),
		TargetUpdateField:    strings.TrimSpace(r.TargetUpdateField),
		TargetTimestampField: strings.TrimSpace(r.TargetTimestampField),
		ExtraFilter:          strings.TrimSpace(r.ExtraFilter),
	}

	if fr.SourceMatchField == "" || fr.SourceDataField == "" {
		return nil, fmt.Errorf("%w: source match field and source data field are required", ErrRuleConfig)
	}
	idents := [][2]string{
		{"target table", fr.TargetTable},
		{"target match field", fr.TargetMatchField},
		{"target update field", fr.TargetUpdateField},
	}
	if fr.TargetTimestampField != "" {
		idents = append(idents, [2]string{"target timestamp field", fr.TargetTimestampField})
	}
	for _, id := range idents {
		if !identifierRe.MatchString(id[1]) {
			return nil, fmt.Errorf("%w: %s %q is not a plain identifier", ErrRuleConfig, id[0], id[1])
		}
	}
	if strings.Contains(fr.ExtraFilter, ";") {
		return nil, fmt.Errorf("%w: extra filter must be a single condition", ErrRuleConfig)
	}
	return fr, nil
}

func classifyTemplate(r models.MappingRule) (Rule, error) {
	tr := TemplateRule{
		ID:              r.ID,
		Name:            r.Name,
		Priority:        r.Priority,
		Template:        strings.TrimSpace(r.StatementTemplate),
		SourceRow:       r.SourceRow,
		SourceDataField: strings.TrimSpace(r.SourceDataField),
		Description:     r.Description,
	}

	raw := strings.TrimSpace(string(r.TemplateParams))
	if raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &tr.Params); err != nil {
			return nil, fmt.Errorf("%w: template params are not a JSON object of strings: %v", ErrRuleConfig, err)
		}
	}
	for name := range tr.Params {
		if !identifierRe.MatchString(name) || strings.Contains(name, ".") {
			return nil, fmt.Errorf("%w: template parameter name %q is not an identifier", ErrRuleConfig, name)
		}
	}

	use, err := inspectPlaceholders(tr.Template, tr.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleConfig, err)
	}
	if use.row && tr.SourceDataField == "" && tr.SourceRow == nil {
		return nil, fmt.Errorf("%w: template uses row placeholders but declares no row selector", ErrRuleConfig)
	}
	tr.usesRow = use.row
	tr.perField = use.perField
	return tr, nil
}
