// Package agent implements the Agent Registry: in-process pure-data
// transforms dispatched by name, used by the executor for node kinds
// that do not need an external tool process (schema synthesis,
// extraction normalization, validation, reduction).
package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Func is a pure, deterministic transform from resolved node arguments
// to an output mapping. Agents must not perform I/O or depend on
// anything besides their arguments — the executor relies on this for
// idempotency-key correctness (same args, same output).
type Func func(args map[string]any) (map[string]any, error)

// Registry is the immutable, name-indexed set of available agents.
type Registry map[string]Func

// Default is the Agent Registry populated at init with the four named
// agents spec.md requires. It is read-only; callers needing a different
// set build their own Registry rather than mutating Default.
var Default = Registry{
	"viz_spec":              VizSpec,
	"extraction_normalizer": ExtractionNormalizer,
	"validator":             Validator,
	"reducer":               Reducer,
}

// Lookup returns the named agent function, or false if no agent is
// registered under that name.
func (r Registry) Lookup(name string) (Func, bool) {
	f, ok := r[name]
	return f, ok
}

// ErrUnknownAgent is returned by Lookup-based dispatch when name has no
// registered Func.
type ErrUnknownAgent struct{ Name string }

func (e ErrUnknownAgent) Error() string {
	return fmt.Sprintf("agent: no agent registered for %q", e.Name)
}

// VizSpec synthesizes a plotly-style chart spec from a transformed
// table's column names, inferring the first text-like column as the
// x axis and the first numeric-like column as the y axis. Deterministic:
// same columns always produce the same spec.
func VizSpec(args map[string]any) (map[string]any, error) {
	columns, err := stringSlice(args, "columns")
	if err != nil {
		// Fall back to a conventional week/total chart when the
		// upstream transform didn't advertise column names explicitly.
		columns = []string{"week", "total"}
	}
	xField, yField := columns[0], columns[0]
	for _, c := range columns {
		if isLikelyDimension(c) {
			xField = c
			break
		}
	}
	for _, c := range columns {
		if !isLikelyDimension(c) {
			yField = c
			break
		}
	}
	return map[string]any{
		"spec": map[string]any{
			"type":    "line",
			"x_field": xField,
			"y_field": yField,
			"title":   fmt.Sprintf("%s over %s", yField, xField),
		},
	}, nil
}

func isLikelyDimension(column string) bool {
	lower := strings.ToLower(column)
	for _, suffix := range []string{"week", "date", "month", "outlet", "product", "name", "id"} {
		if strings.Contains(lower, suffix) {
			return true
		}
	}
	return false
}

var invoicePattern = regexp.MustCompile(`(?i)invoice[\s#:]*([A-Z0-9-]+)`)
var vendorPattern = regexp.MustCompile(`(?i)vendor[\s:]*([A-Za-z0-9 &.,-]+?)(?:\n|$)`)

// ExtractionNormalizer turns raw extracted text into a normalized
// tracking record. A genuine PDF-extraction pipeline is out of scope
// (spec.md's extraction agent is a single opaque interface); this
// implementation regex-extracts the two fields the pdf_tracking
// template's upsert key depends on, so the flow is exercisable end to
// end against stubbed tool output.
func ExtractionNormalizer(args map[string]any) (map[string]any, error) {
	text, _ := args["text"].(string)
	if text == "" {
		if b, ok := args["bytes"].(string); ok {
			text = b
		}
	}
	record := map[string]any{}
	if m := invoicePattern.FindStringSubmatch(text); m != nil {
		record["invoice_number"] = strings.TrimSpace(m[1])
	}
	if m := vendorPattern.FindStringSubmatch(text); m != nil {
		record["vendor"] = strings.TrimSpace(m[1])
	}
	if len(record) == 0 {
		return nil, fmt.Errorf("agent: extraction_normalizer: no recognizable invoice or vendor fields in input")
	}
	return map[string]any{"record": record}, nil
}

// Validator schema/sanity-checks an upstream artifact or record: it
// confirms the expected fields named in args["expect"] are present and
// non-empty in args["record"] (or, for a table input, that the table is
// non-empty). Returns {"ok": bool, "issues": [string]}.
func Validator(args map[string]any) (map[string]any, error) {
	var issues []string

	if expect, err := stringSlice(args, "expect"); err == nil {
		record, _ := args["record"].(map[string]any)
		for _, field := range expect {
			v, present := record[field]
			if !present || v == "" || v == nil {
				issues = append(issues, fmt.Sprintf("missing or empty field %q", field))
			}
		}
	}

	if rows, ok := args["rows"].(float64); ok && rows == 0 {
		issues = append(issues, "table has zero rows")
	}

	sort.Strings(issues)
	return map[string]any{
		"ok":     len(issues) == 0,
		"issues": issues,
	}, nil
}

// Reducer folds the terminal node outputs of a flow into a single
// summary mapping, used as the run's user-facing result. It passes
// through whatever fields it's given, tagging the output with whether
// upstream validation passed.
func Reducer(args map[string]any) (map[string]any, error) {
	summary := map[string]any{}
	for k, v := range args {
		if k == "validated" {
			continue
		}
		summary[k] = v
	}
	validated, _ := args["validated"].(bool)
	summary["validated"] = validated
	return summary, nil
}

func stringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("agent: missing %q", key)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("agent: %q contains a non-string element", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("agent: %q is not a string list", key)
	}
}
