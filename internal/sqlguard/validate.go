// Package sqlguard decides whether a mutation statement is safe to persist
// or execute. Validate is pure; Validator adds an optional store-backed
// parse-only step.
package sqlguard

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Rejection reasons. They end up in statement bookkeeping and logs, so they
// are kept stable.
const (
	ReasonEmpty            = "empty statement"
	ReasonForbiddenKeyword = "forbidden keyword"
	ReasonVerbNotAllowed   = "statement verb not allowed"
	ReasonMissingFilter    = "missing filter clause (WHERE)"
	ReasonMultiple         = "multiple statements not allowed"
	ReasonUnboundParam     = "unbound parameter"
	ReasonParseFailed      = "parse check failed"
)

// Allowed mutation verbs
var allowedVerbs = map[string]bool{
	"UPDATE": true,
	"INSERT": true,
	"DELETE": true,
	"MERGE":  true,
}

var (
	forbiddenRe = regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|ALTER|CREATE|EXEC|EXECUTE|GRANT|REVOKE|DENY|SHUTDOWN|RECONFIGURE|BACKUP|RESTORE|DBCC|OPENROWSET|OPENQUERY|OPENDATASOURCE|XP_CMDSHELL|SP_EXECUTESQL|ATTACH|DETACH|PRAGMA|VACUUM|COPY)\b`)
	whereRe     = regexp.MustCompile(`(?i)\bWHERE\b`)
	verbRe      = regexp.MustCompile(`^[A-Za-z]+`)
	paramRe     = regexp.MustCompile(`@@?[A-Za-z_][A-Za-z0-9_]*`)
)

// Verdict is the outcome of validating one statement
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Verb   string `json:"verb,omitempty"`
}

func (v Verdict) String() string {
	if v.OK {
		return "ok"
	}
	return v.Reason
}

func reject(reason, verb string) Verdict {
	return Verdict{Reason: reason, Verb: verb}
}

// Validate runs the static checks in order and stops at the first failure:
// non-empty, no forbidden keyword, allowed verb, WHERE on UPDATE/DELETE,
// single statement, and every @name bound in params.
func Validate(text string, params map[string]interface{}) Verdict {
	if strings.TrimSpace(text) == "" {
		return reject(ReasonEmpty, "")
	}

	if kw := forbiddenRe.FindString(text); kw != "" {
		return reject(fmt.Sprintf("%s: %s", ReasonForbiddenKeyword, strings.ToUpper(kw)), "")
	}

	// Literals and comments must not satisfy or break the structural
	// checks below.
	code := maskLiterals(text)
	body := strings.TrimLeft(code, " \t\r\n(")

	verb := strings.ToUpper(verbRe.FindString(body))
	if !allowedVerbs[verb] {
		if verb == "" {
			return reject(ReasonVerbNotAllowed, "")
		}
		return reject(fmt.Sprintf("%s: %s", ReasonVerbNotAllowed, verb), verb)
	}

	if (verb == "UPDATE" || verb == "DELETE") && !whereRe.MatchString(code) {
		return reject(ReasonMissingFilter, verb)
	}

	trimmed := strings.TrimRight(strings.TrimSpace(code), "; \t\r\n")
	if strings.Contains(trimmed, ";") {
		return reject(ReasonMultiple, verb)
	}

	for _, name := range paramRe.FindAllString(code, -1) {
		if strings.HasPrefix(name, "@@") {
			continue // server variable such as @@ROWCOUNT
		}
		if _, ok := params[name[1:]]; !ok {
			return reject(fmt.Sprintf("%s: %s", ReasonUnboundParam, name), verb)
		}
	}

	return Verdict{OK: true, Verb: verb}
}

// maskLiterals blanks out quoted strings, quoted identifiers and comments
// while keeping byte offsets stable
func maskLiterals(s string) string {
	out := []byte(s)
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '\'' || out[i] == '"' || out[i] == '[':
			closer := out[i]
			if closer == '[' {
				closer = ']'
			}
			j := i + 1
			for j < len(out) {
				if out[j] == closer {
					// doubled quote is an escape inside the literal
					if j+1 < len(out) && out[j+1] == closer && closer != ']' {
						out[j], out[j+1] = ' ', ' '
						j += 2
						continue
					}
					break
				}
				out[j] = ' '
				j++
			}
			i = j
		case out[i] == '-' && i+1 < len(out) && out[i+1] == '-':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '*':
			for i < len(out) && !(out[i] == '*' && i+1 < len(out) && out[i+1] == '/') {
				out[i] = ' '
				i++
			}
			if i+1 < len(out) {
				out[i], out[i+1] = ' ', ' '
				i++
			}
		}
	}
	return string(out)
}

// ParseChecker compiles a statement against the target store without
// applying it
type ParseChecker interface {
	ParseCheck(ctx context.Context, text string, params map[string]interface{}) error
}

// Validator runs Validate and, when Parser is set, the parse-only check
type Validator struct {
	Parser ParseChecker
}

// Check validates text. The parse step only runs for statements that
// already passed the static checks.
func (v Validator) Check(ctx context.Context, text string, params map[string]interface{}) Verdict {
	verdict := Validate(text, params)
	if !verdict.OK || v.Parser == nil {
		return verdict
	}
	if err := v.Parser.ParseCheck(ctx, text, params); err != nil {
		return reject(fmt.Sprintf("%s: %v", ReasonParseFailed, err), verdict.Verb)
	}
	return verdict
}
