package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xelth-com/reportsync/internal/models"
)

var (
	// ErrUnknownPlaceholder marks a token outside the template vocabulary
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	// ErrNoRowScope marks a row placeholder expanded without a row
	ErrNoRowScope = errors.New("row placeholder outside a row")
	// ErrMissingRowField marks a {Row.<field>} the row does not carry
	ErrMissingRowField = errors.New("row field missing")
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*(?:\.[^{}]+)?)\}`)

const rowFieldPrefix = "row."

// Document-level vocabulary, keyed lower-case
var documentPlaceholders = map[string]func(models.Document) string{
	"documentid":   func(d models.Document) string { return d.ID },
	"filename":     func(d models.Document) string { return d.FileName },
	"format":       func(d models.Document) string { return d.Format },
	"partid":       func(d models.Document) string { return d.PartID },
	"serialnumber": func(d models.Document) string { return d.SerialNumber },
	"doctype":      func(d models.Document) string { return d.DocType },
}

// Row-level vocabulary besides {Row.<field>}
var rowPlaceholders = map[string]bool{
	"fieldname": true,
	"rownumber": true,
	"rowvalue":  true,
}

// RowScope is the row a template is being expanded for
type RowScope struct {
	Number    int
	FieldName string
	Value     string
	Group     RowGroup
}

// Scope carries everything placeholders can refer to
type Scope struct {
	Document models.Document
	Row      *RowScope
}

// Expansion is a fully substituted statement and its named parameters
type Expansion struct {
	Text   string
	Params map[string]interface{}
}

// Expander turns an operator template into statement text and parameters
type Expander interface {
	Expand(template string, params map[string]string, scope Scope) (Expansion, error)
}

// PlaceholderExpander replaces {Name} tokens literally. Values are not
// escaped; anything that must be treated as data belongs in params, which
// are bound by name at execution.
type PlaceholderExpander struct{}

// Expand implements Expander
func (PlaceholderExpander) Expand(template string, params map[string]string, scope Scope) (Expansion, error) {
	text, err := substitute(template, scope)
	if err != nil {
		return Expansion{}, err
	}

	out := Expansion{Text: text, Params: make(map[string]interface{}, len(params))}
	for name, expr := range params {
		v, err := substitute(expr, scope)
		if err != nil {
			return Expansion{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		out.Params[name] = v
	}
	return out, nil
}

func substitute(s string, scope Scope) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
		if firstErr != nil {
			return tok
		}
		v, err := resolvePlaceholder(tok[1:len(tok)-1], scope)
		if err != nil {
			firstErr = err
			return tok
		}
		return v
	})
	return out, firstErr
}

func resolvePlaceholder(name string, scope Scope) (string, error) {
	key := strings.ToLower(name)
	if fn, ok := documentPlaceholders[key]; ok {
		return fn(scope.Document), nil
	}

	isRowField := strings.HasPrefix(key, rowFieldPrefix)
	if !rowPlaceholders[key] && !isRowField {
		return "", fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, name)
	}
	if scope.Row == nil {
		return "", fmt.Errorf("%w: {%s}", ErrNoRowScope, name)
	}

	switch {
	case isRowField:
		field := name[len(rowFieldPrefix):]
		f, ok := scope.Row.Group.Lookup(field)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingRowField, field)
		}
		return f.Value, nil
	case key == "fieldname":
		return scope.Row.FieldName, nil
	case key == "rownumber":
		return strconv.Itoa(scope.Row.Number), nil
	default:
		return scope.Row.Value, nil
	}
}

// Placeholders lists the distinct placeholder names used in s
func Placeholders(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// placeholderUse summarizes what a template and its parameters refer to
type placeholderUse struct {
	row      bool // any row-level placeholder
	perField bool // {FieldName} or {RowValue}
}

func inspectPlaceholders(template string, params map[string]string) (placeholderUse, error) {
	var use placeholderUse

	sources := []string{template}
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		sources = append(sources, params[n])
	}

	for _, src := range sources {
		for _, p := range Placeholders(src) {
			key := strings.ToLower(p)
			switch {
			case documentPlaceholders[key] != nil:
			case key == "fieldname" || key == "rowvalue":
				use.row, use.perField = true, true
			case rowPlaceholders[key] || strings.HasPrefix(key, rowFieldPrefix):
				use.row = true
			default:
				return use, fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, p)
			}
		}
	}
	return use, nil
}
