// Package filter evaluates CEL predicates against log entries. Tail, read and
// export paths share one compiled program per expression.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/sequencer"
)

// Filter is a compiled predicate. The zero value and a Filter built from an
// empty expression match everything.
type Filter struct {
	expr    string
	prog    cel.Program
	enabled bool
	now     sequencer.Clock
}

// New compiles expr. The expression sees the variables position,
// source_position, key, timestamp, size, text, metadata, json and now_ms, and
// must evaluate to a bool.
func New(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("position", cel.IntType),
		cel.Variable("source_position", cel.IntType),
		cel.Variable("key", cel.IntType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("metadata", cel.StringType),
		// Parsed JSON value, null when the value is not JSON
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("filter: %q evaluates to %s, want bool", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, prog: prog, enabled: true, now: sequencer.SystemClock}, nil
}

// MustNew is New that panics on error.
func MustNew(expr string) *Filter {
	f, err := New(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// WithClock returns a copy of f that reads now_ms from clock.
func (f *Filter) WithClock(clock sequencer.Clock) *Filter {
	cp := *f
	cp.now = clock
	return &cp
}

// Enabled reports whether f filters anything.
func (f *Filter) Enabled() bool { return f != nil && f.enabled }

func (f *Filter) String() string {
	if !f.Enabled() {
		return "true"
	}
	return f.expr
}

// Match evaluates f against one entry. Evaluation errors count as no match.
func (f *Filter) Match(l entry.Logged) bool {
	if !f.Enabled() {
		return true
	}
	value := l.Value()
	var doc any
	_ = json.Unmarshal(value, &doc)
	out, _, err := f.prog.Eval(map[string]any{
		"position":        l.Position(),
		"source_position": l.SourceEventPosition(),
		"key":             l.Key(),
		"timestamp":       l.Timestamp(),
		"size":            int64(len(value)),
		"text":            string(value),
		"metadata":        string(l.Metadata()),
		"json":            doc,
		"now_ms":          f.now(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// MatchAny reports whether at least one of entries matches.
func (f *Filter) MatchAny(entries []entry.Logged) bool {
	if !f.Enabled() {
		return len(entries) > 0
	}
	for _, l := range entries {
		if f.Match(l) {
			return true
		}
	}
	return false
}
