// Package validate runs supplied test cases against candidate implementations.
//
// Candidates are evaluated in a sandboxed yaegi interpreter rather than
// compiled: no toolchain dependency, no binary artifacts, and a stdlib-only
// import allowlist enforced before evaluation.
package validate

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"jitgen/internal/logging"
)

// Case is a predicate over a candidate implementation paired with a
// human-readable label. Either Expr (a Go boolean expression evaluated in
// the candidate's scope) or Fn (a predicate over the extracted symbol) must
// be set; Fn wins when both are.
type Case struct {
	Label string
	Expr  string
	Fn    func(impl interface{}) (bool, string)
}

// CasesFromExprs builds expression cases, one per boolean expression. The
// expression doubles as the label so failure detail quotes it verbatim.
// Used for //jitgen:test directive lines, which have no separate label.
func CasesFromExprs(exprs []string) []Case {
	cases := make([]Case, 0, len(exprs))
	for _, e := range exprs {
		cases = append(cases, Case{Label: e, Expr: e})
	}
	return cases
}

// Result is the outcome of a single case.
type Result struct {
	Label  string
	Passed bool
	Detail string
}

// Report aggregates per-case results. Passed requires every case to pass.
type Report struct {
	Results []Result
	Passed  bool
}

// FailureDetail renders failing cases for regeneration feedback.
func (r *Report) FailureDetail() string {
	var sb strings.Builder
	for _, res := range r.Results {
		if res.Passed {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", res.Label, res.Detail)
	}
	return sb.String()
}

// Runner evaluates candidates in a restricted interpreter.
type Runner struct {
	allowedPackages map[string]bool
}

// NewRunner creates a validator with the default stdlib allowlist.
func NewRunner() *Runner {
	return &Runner{
		allowedPackages: map[string]bool{
			"bytes":           true,
			"container/heap":  true,
			"container/list":  true,
			"encoding/base64": true,
			"encoding/json":   true,
			"errors":          true,
			"fmt":             true,
			"maps":            true,
			"math":            true,
			"math/big":        true,
			"math/bits":       true,
			"math/cmplx":      true,
			"path":            true,
			"regexp":          true,
			"slices":          true,
			"sort":            true,
			"strconv":         true,
			"strings":         true,
			"time":            true,
			"unicode":         true,
			"unicode/utf8":    true,

			// Blocked by omission: os, os/exec, net, net/http, syscall,
			// unsafe, plugin, reflect, runtime.
		},
	}
}

// Run evaluates candidate code and executes all cases against it.
// symbol is the declared name the cases exercise. The context bounds the
// whole run; interpreter work is abandoned on timeout.
func (r *Runner) Run(ctx context.Context, code, symbol string, cases []Case) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryValidation, "Run")
	defer timer.Stop()

	if err := r.checkImports(code); err != nil {
		return nil, err
	}

	type outcome struct {
		report *Report
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		report, err := r.run(code, symbol, cases)
		done <- outcome{report, err}
	}()

	select {
	case out := <-done:
		return out.report, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("validation timed out: %w", ctx.Err())
	}
}

func (r *Runner) run(code, symbol string, cases []Case) (*Report, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, fmt.Errorf("candidate does not evaluate: %w", err)
	}

	// Fn cases need the symbol value; Expr cases reference it by name.
	var impl interface{}
	for _, c := range cases {
		if c.Fn == nil {
			continue
		}
		v, err := i.Eval("main." + symbol)
		if err != nil {
			return nil, fmt.Errorf("symbol %s not found in candidate: %w", symbol, err)
		}
		impl = v.Interface()
		break
	}

	report := &Report{Passed: true}
	for _, c := range cases {
		res := Result{Label: c.Label}
		switch {
		case c.Fn != nil:
			res.Passed, res.Detail = c.Fn(impl)
		case c.Expr != "":
			res.Passed, res.Detail = evalExpr(i, c.Expr)
		default:
			res.Detail = "empty test case"
		}
		if res.Passed {
			logging.Validation("Test case %q: PASSED", c.Label)
		} else {
			logging.Validation("Test case %q: FAILED (%s)", c.Label, res.Detail)
			report.Passed = false
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// evalExpr evaluates a boolean test expression in the candidate's scope.
func evalExpr(i *interp.Interpreter, expr string) (passed bool, detail string) {
	defer func() {
		if rec := recover(); rec != nil {
			passed = false
			detail = fmt.Sprintf("panic evaluating %s: %v", expr, rec)
		}
	}()

	v, err := i.Eval(expr)
	if err != nil {
		return false, fmt.Sprintf("error evaluating %s: %v", expr, err)
	}
	if !v.IsValid() || v.Kind() != reflect.Bool {
		return false, fmt.Sprintf("expression %s is not boolean", expr)
	}
	if !v.Bool() {
		return false, fmt.Sprintf("expected %s to be true, got false", expr)
	}
	return true, ""
}

// checkImports rejects candidates importing anything off the allowlist.
// Parsed with go/parser so string tricks in the body cannot sneak past.
func (r *Runner) checkImports(code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "candidate.go", wrapCode(code), parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("candidate does not parse: %w", err)
	}

	var forbidden []string
	for _, imp := range file.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !r.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports in candidate: %v", forbidden)
	}
	return nil
}

// wrapCode wraps the candidate in a main package if not already wrapped.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
