package mapping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// fieldStats counts why rows of a field group produced nothing
type fieldStats struct {
	noMatchValue int // row has no usable match value
	noColumns    int // no rule had data in the row
	noTarget     int // existence check found no target row
}

type column struct {
	name  string
	value string
	rule  FieldRule
}

// fieldStatements builds one UPDATE per row group of doc that has a match
// value, at least one mapped value, and an existing target row
func (g *Generator) fieldStatements(ctx context.Context, tx *gorm.DB, doc models.Document, rows []RowGroup, grp FieldGroup, now time.Time, log *zap.Logger) ([]*models.GeneratedStatement, fieldStats, error) {
	var (
		out   []*models.GeneratedStatement
		stats fieldStats
	)

	for _, row := range rows {
		matchValue, ok := row.Value(grp.SourceMatchField)
		if !ok {
			stats.noMatchValue++
			continue
		}

		cols := collectColumns(row, grp)
		if len(cols) == 0 {
			stats.noColumns++
			continue
		}

		exists, err := g.targetExists(ctx, tx, grp, matchValue)
		if err != nil {
			return nil, stats, err
		}
		if !exists {
			stats.noTarget++
			log.Debug("no target row, statement not generated",
				zap.String("table", grp.Table),
				zap.String("match_value", matchValue),
				zap.Int("row", row.Number))
			continue
		}

		out = append(out, buildFieldStatement(doc, row, grp, cols, matchValue, now))
	}
	return out, stats, nil
}

// collectColumns picks the first rule per target column that has data
func collectColumns(row RowGroup, grp FieldGroup) []column {
	var cols []column
	seen := map[string]bool{}
	for _, r := range grp.Rules {
		if r.SourceRow != nil && *r.SourceRow != row.Number {
			continue
		}
		v, ok := row.Value(r.SourceDataField)
		if !ok {
			continue
		}
		key := strings.ToLower(r.TargetUpdateField)
		if seen[key] {
			continue
		}
		seen[key] = true
		cols = append(cols, column{name: r.TargetUpdateField, value: v, rule: r})
	}
	return cols
}

func matchClause(grp FieldGroup) string {
	where := fmt.Sprintf("%s = @m", grp.MatchColumn)
	if grp.ExtraFilter != "" {
		where += " AND (" + grp.ExtraFilter + ")"
	}
	return where
}

// targetExists runs the read-only existence check. A query error that is
// not transient means the group is misconfigured; it is rolled back to a
// savepoint so the document transaction stays usable.
func (g *Generator) targetExists(ctx context.Context, tx *gorm.DB, grp FieldGroup, matchValue string) (bool, error) {
	const sp = "reportsync_exists_check"
	q := tx.WithContext(ctx)
	if err := q.SavePoint(sp).Error; err != nil {
		return false, fmt.Errorf("existence check savepoint: %w", err)
	}

	var n int64
	sql := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE %s", grp.Table, matchClause(grp))
	err := q.Raw(sql, map[string]interface{}{"m": matchValue}).Scan(&n).Error
	if err != nil {
		if rbErr := q.RollbackTo(sp).Error; rbErr != nil {
			return false, fmt.Errorf("existence check rollback: %w", rbErr)
		}
		if database.IsTransient(err) {
			return false, fmt.Errorf("existence check on %s: %w", grp.Table, err)
		}
		return false, fmt.Errorf("%w: existence check on %s failed: %v", ErrRuleConfig, grp.Table, err)
	}
	return n > 0, nil
}

func buildFieldStatement(doc models.Document, row RowGroup, grp FieldGroup, cols []column, matchValue string, now time.Time) *models.GeneratedStatement {
	params := datatypes.JSONMap{"m": matchValue}
	sets := make([]string, 0, len(cols)+1)
	names := make([]string, 0, len(cols))

	for i, c := range cols {
		p := "v"
		if i > 0 {
			p = fmt.Sprintf("v%d", i)
		}
		sets = append(sets, fmt.Sprintf("%s = @%s", c.name, p))
		params[p] = c.value
		names = append(names, c.name)
	}
	if grp.TimestampColumn != "" {
		sets = append(sets, fmt.Sprintf("%s = @t", grp.TimestampColumn))
		params["t"] = now.UTC().Format(time.RFC3339)
	}

	text := fmt.Sprintf("UPDATE %s SET %s WHERE %s", grp.Table, strings.Join(sets, ", "), matchClause(grp))
	first := cols[0].rule
	ruleID := first.ID
	docID := doc.ID

	return &models.GeneratedStatement{
		Name:               fmt.Sprintf("%s row %d", first.Name, row.Number),
		Kind:               models.KindFieldMapping,
		StatementText:      text,
		Parameters:         params,
		Description:        fmt.Sprintf("%s: %s.%s = %s -> %s", doc.FileName, grp.Table, grp.MatchColumn, matchValue, strings.Join(names, ", ")),
		IsActive:           true,
		ExecutionOrder:     grp.Priority(),
		RequiresValidation: true,
		DocumentID:         &docID,
		RuleID:             &ruleID,
		LastStatus:         models.StatusPending,
		GenerationKey: GenerationKey(models.KindFieldMapping, doc.ID, grp.Key(), matchValue,
			text, canonicalParams(params, "t")),
	}
}
