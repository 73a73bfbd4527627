package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/xelth-com/reportsync/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// NormalizeField folds a field name for comparison:
//  1. lowercase and trim
//  2. strip accents (NFD → remove Mn → NFC)
//  3. runs of space, dash, dot and underscore become one underscore
//  4. other punctuation is dropped
func NormalizeField(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			if !prevUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Field is one named value inside a row group
type Field struct {
	Name  string // as ingested
	Value string
}

// RowGroup is every field a document carries for one row number
type RowGroup struct {
	Number int
	fields map[string]Field
	keys   []string // normalized names, sorted
}

// Lookup finds a field by name regardless of case, accents or separators
func (g RowGroup) Lookup(name string) (Field, bool) {
	f, ok := g.fields[NormalizeField(name)]
	return f, ok
}

// Value returns a field's value when it is present and not blank
func (g RowGroup) Value(name string) (string, bool) {
	f, ok := g.Lookup(name)
	if !ok || strings.TrimSpace(f.Value) == "" {
		return "", false
	}
	return f.Value, true
}

// Fields returns the row's fields ordered by normalized name
func (g RowGroup) Fields() []Field {
	out := make([]Field, 0, len(g.keys))
	for _, k := range g.keys {
		out = append(out, g.fields[k])
	}
	return out
}

// GroupRows folds rows into row groups in ascending row-number order.
// When a row repeats a field name the first occurrence wins.
func GroupRows(rows []models.Row) []RowGroup {
	byNumber := make(map[int]*RowGroup)
	var numbers []int

	for _, r := range rows {
		g, ok := byNumber[r.RowNumber]
		if !ok {
			g = &RowGroup{Number: r.RowNumber, fields: make(map[string]Field)}
			byNumber[r.RowNumber] = g
			numbers = append(numbers, r.RowNumber)
		}
		key := NormalizeField(r.FieldName)
		if key == "" {
			continue
		}
		if _, dup := g.fields[key]; dup {
			continue
		}
		g.fields[key] = Field{Name: r.FieldName, Value: r.Value}
		g.keys = append(g.keys, key)
	}

	sort.Ints(numbers)
	out := make([]RowGroup, 0, len(numbers))
	for _, n := range numbers {
		g := byNumber[n]
		sort.Strings(g.keys)
		out = append(out, *g)
	}
	return out
}

// LoadRowGroups reads a document's rows through tx
func LoadRowGroups(ctx context.Context, tx *gorm.DB, documentID string) ([]RowGroup, error) {
	var rows []models.Row
	err := tx.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("row_num ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load rows: %w", err)
	}
	return GroupRows(rows), nil
}
