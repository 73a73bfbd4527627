package mapping

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xelth-com/reportsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// templateStatements expands a template rule for doc. A document-level
// template yields one statement; a row-level one yields one per row the
// rule's selector admits.
func (g *Generator) templateStatements(doc models.Document, rows []RowGroup, rule TemplateRule, log *zap.Logger) ([]*models.GeneratedStatement, int, error) {
	if !rule.PerRow() {
		exp, err := g.expander.Expand(rule.Template, rule.Params, Scope{Document: doc})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrRuleConfig, err)
		}
		return []*models.GeneratedStatement{buildTemplateStatement(doc, rule, exp, "")}, 0, nil
	}

	var (
		out     []*models.GeneratedStatement
		skipped int
	)
	for _, row := range rows {
		if rule.SourceRow != nil && *rule.SourceRow != row.Number {
			continue
		}
		for _, scope := range rowScopes(row, rule) {
			exp, err := g.expander.Expand(rule.Template, rule.Params, Scope{Document: doc, Row: scope})
			if errors.Is(err, ErrMissingRowField) {
				skipped++
				log.Debug("row lacks a referenced field", zap.Int("row", row.Number), zap.Error(err))
				continue
			}
			if err != nil {
				return nil, skipped, fmt.Errorf("%w: %v", ErrRuleConfig, err)
			}
			out = append(out, buildTemplateStatement(doc, rule, exp, fmt.Sprintf("row %d", row.Number)))
		}
	}
	return out, skipped, nil
}

// rowScopes lists what a row contributes to a per-row template: the
// declared source field, every non-blank field when the template iterates
// fields, or the row as a whole
func rowScopes(row RowGroup, rule TemplateRule) []*RowScope {
	if rule.SourceDataField != "" {
		f, ok := row.Lookup(rule.SourceDataField)
		if !ok || strings.TrimSpace(f.Value) == "" {
			return nil
		}
		return []*RowScope{{Number: row.Number, FieldName: f.Name, Value: f.Value, Group: row}}
	}
	if !rule.perField {
		return []*RowScope{{Number: row.Number, Group: row}}
	}

	var out []*RowScope
	for _, f := range row.Fields() {
		if strings.TrimSpace(f.Value) == "" {
			continue
		}
		out = append(out, &RowScope{Number: row.Number, FieldName: f.Name, Value: f.Value, Group: row})
	}
	return out
}

func buildTemplateStatement(doc models.Document, rule TemplateRule, exp Expansion, where string) *models.GeneratedStatement {
	params := datatypes.JSONMap(exp.Params)
	if params == nil {
		params = datatypes.JSONMap{}
	}
	name := rule.Name
	if where != "" {
		name += " " + where
	}
	ruleID := rule.ID
	docID := doc.ID
	desc := rule.Description
	if desc == "" {
		desc = fmt.Sprintf("%s: template %s", doc.FileName, rule.Name)
	}

	return &models.GeneratedStatement{
		Name:               name,
		Kind:               models.KindTemplate,
		StatementText:      exp.Text,
		Parameters:         params,
		Description:        desc,
		IsActive:           true,
		ExecutionOrder:     rule.Priority,
		RequiresValidation: true,
		DocumentID:         &docID,
		RuleID:             &ruleID,
		LastStatus:         models.StatusPending,
		GenerationKey: GenerationKey(models.KindTemplate, doc.ID, strconv.FormatUint(uint64(rule.ID), 10),
			exp.Text, canonicalParams(exp.Params)),
	}
}
