package model

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// Codes of CueErrorDetail.
const (
	CodeUnknownField     = "unknown_field"
	CodeMissingRequired  = "missing_required"
	CodeInvalidEnum      = "invalid_enum"
	CodeInvalidDuration  = "invalid_duration"
	CodeConflictingValue = "conflicting_values"
	CodeOutOfBound       = "out_of_bound"
	CodeValidation       = "validation_error"
)

// CueErrorDetail is one configuration problem in terms of the YAML file.
type CueErrorDetail struct {
	Path    string // worker.startup_timeout
	Code    string
	Message string
	Pos     CueErrorPosition
	Raw     string
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

// CueErrDetails turns a LoadConfig error into one detail per field and problem.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		selectors := e.Path()
		if len(selectors) > 0 && strings.HasPrefix(selectors[0], "#") {
			selectors = selectors[1:]
		}
		format, args := e.Msg()
		d := CueErrorDetail{
			Path: strings.Join(selectors, "."),
			Raw:  fmt.Sprintf(format, args...),
			Pos:  position(e),
		}
		d.Code, d.Message = describe(format, d.Raw, selectors)

		key := d.Path + "/" + d.Code
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

func describe(format, raw string, selectors []string) (code, msg string) {
	field := "configuration"
	if len(selectors) > 0 {
		field = "field " + selectors[len(selectors)-1]
	}

	switch {
	case strings.Contains(format, "not allowed"):
		return CodeUnknownField, field + " is not allowed"
	case strings.Contains(format, "incomplete value"):
		return CodeMissingRequired, field + " is required"
	case strings.Contains(raw, "does not match") && strings.Contains(raw, "(ns|us|"):
		return CodeInvalidDuration, field + " must be a duration like 500ms, 10s or 1m30s"
	case strings.Contains(format, "conflicting values"):
		values, dflt := enumValues(schemaField(selectors))
		if len(values) == 0 {
			return CodeConflictingValue, field + " has a value of the wrong type"
		}
		msg = fmt.Sprintf("%s must be one of %s", field, strings.Join(values, ", "))
		if dflt != "" {
			msg += " (default " + dflt + ")"
		}
		return CodeInvalidEnum, msg
	case strings.Contains(raw, "out of bound"):
		return CodeOutOfBound, field + " is out of range: " + raw
	default:
		return CodeValidation, raw
	}
}

// schemaField finds the schema declaration of a config path. List indexes
// select the element constraint.
func schemaField(selectors []string) cue.Value {
	sels := make([]cue.Selector, 0, len(selectors))
	for _, s := range selectors {
		if _, err := strconv.Atoi(s); err == nil {
			sels = append(sels, cue.AnyIndex)
			continue
		}
		sels = append(sels, cue.Str(s))
	}
	return schema.LookupPath(cue.MakePath(sels...))
}

// enumValues lists the string alternatives of a disjunction such as
// `*"keywords" | "openai" | "anthropic"`.
func enumValues(v cue.Value) (values []string, dflt string) {
	if !v.Exists() {
		return nil, ""
	}
	if d, ok := v.Default(); ok {
		dflt, _ = d.String()
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		return nil, ""
	}
	for _, a := range args {
		s, err := a.String()
		if err != nil {
			// a non concrete branch, e.g. `string & !=""`, is not an enum
			return nil, ""
		}
		values = append(values, s)
	}
	return values, dflt
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: p.Filename(),
			Line:     p.Line(),
			Column:   p.Column(),
		}
	}
	return CueErrorPosition{}
}
