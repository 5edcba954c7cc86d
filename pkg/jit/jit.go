// Package jit binds generated implementations to declared function
// variables at runtime.
//
// The caller declares a typed func variable with no implementation, then
// asks for one:
//
//	var PrimeFactors func(n int) []int
//
//	err := jit.Bind(ctx, &PrimeFactors,
//		jit.Name("PrimeFactors"),
//		jit.Doc("PrimeFactors returns the prime factors of n in ascending order."),
//		jit.WithTests(jit.Case{Label: "factors of 12", Fn: func(impl interface{}) (bool, string) {
//			got := impl.(func(int) []int)(12)
//			return len(got) == 3, fmt.Sprintf("got %v", got)
//		}}),
//	)
//
// Generation is cached by a checksum over the declaration, its referenced
// types, and the supplied tests; a second Bind with the same inputs reuses
// the cached implementation without an API call.
package jit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strings"

	"jitgen/internal/cache"
	"jitgen/internal/config"
	"jitgen/internal/declare"
	"jitgen/internal/engine"
	"jitgen/internal/install"
	"jitgen/internal/llm"
	"jitgen/internal/logging"
	"jitgen/internal/validate"
)

// Case is a validation predicate run against each candidate before it is
// accepted. Either Expr (a boolean expression evaluated in the candidate's
// package) or Fn (a predicate receiving the implementation) must be set.
type Case = validate.Case

// ErrValidationExhausted reports that no candidate passed within the retry
// budget.
var ErrValidationExhausted = engine.ErrValidationExhausted

// ErrCancelled reports that a non-autonomous Bind was declined at a retry
// prompt.
var ErrCancelled = engine.ErrCancelled

type bindConfig struct {
	name      string
	doc       string
	cases     []Case
	maxTries  int
	inPlace   bool
	force     bool
	workspace string
	client    llm.Client
	confirm   func(try int, failureDetail string) bool
}

// Option configures a Bind call.
type Option func(*bindConfig)

// Name sets the symbol name to generate. Required: Go reflection cannot
// recover a variable's declared name.
func Name(name string) Option { return func(c *bindConfig) { c.name = name } }

// Doc supplies the behavior description fed to the generator. When the
// declaration carries a doc comment in source, that comment wins.
func Doc(doc string) Option { return func(c *bindConfig) { c.doc = doc } }

// WithTests adds validation cases. Candidates that fail any case are
// rejected and regenerated with the failure detail.
func WithTests(cases ...Case) Option {
	return func(c *bindConfig) { c.cases = append(c.cases, cases...) }
}

// MaxTries bounds the generate/validate loop. Default is 5.
func MaxTries(n int) Option { return func(c *bindConfig) { c.maxTries = n } }

// InPlace additionally rewrites the declaring source file with the accepted
// implementation. Requires a source declaration in the caller's file.
func InPlace() Option { return func(c *bindConfig) { c.inPlace = true } }

// Force bypasses the cache lookup and regenerates.
func Force() Option { return func(c *bindConfig) { c.force = true } }

// Autonomous controls whether retries run unattended. The default is true;
// with false, each retry after a failed attempt asks for confirmation on
// the terminal, and declining fails the Bind with ErrCancelled.
func Autonomous(v bool) Option {
	return func(c *bindConfig) {
		if v {
			c.confirm = nil
		} else {
			c.confirm = promptContinue
		}
	}
}

// Workspace overrides the workspace root (default: current directory).
func Workspace(dir string) Option { return func(c *bindConfig) { c.workspace = dir } }

// WithClient overrides the configured generation client. Used by tests.
func WithClient(client llm.Client) Option { return func(c *bindConfig) { c.client = client } }

// Bind generates, validates, and installs an implementation into fnPtr,
// which must be a non-nil pointer to a func variable. The binding lives in
// the yaegi interpreter for the remainder of the process.
func Bind(ctx context.Context, fnPtr interface{}, opts ...Option) error {
	var bc bindConfig
	for _, opt := range opts {
		opt(&bc)
	}
	if bc.name == "" {
		return fmt.Errorf("jit: Name option is required")
	}
	pv := reflect.ValueOf(fnPtr)
	if pv.Kind() != reflect.Ptr || pv.IsNil() || pv.Elem().Kind() != reflect.Func {
		return fmt.Errorf("jit: target must be a non-nil pointer to a func variable, got %T", fnPtr)
	}
	if bc.workspace == "" {
		bc.workspace = "."
	}

	if err := logging.Initialize(bc.workspace); err != nil {
		return fmt.Errorf("jit: %w", err)
	}

	decl, fromSource := callerDeclaration(bc.name)
	if !fromSource {
		if bc.inPlace {
			return fmt.Errorf("jit: in-place rewrite requires a //jitgen:implement declaration for %s in the calling file", bc.name)
		}
		decl = syntheticDeclaration(bc.name, bc.doc, pv.Elem().Type())
	}
	cases := append(validate.CasesFromExprs(decl.Tests), bc.cases...)

	cfg, err := config.Load(bc.workspace)
	if err != nil {
		return fmt.Errorf("jit: %w", err)
	}

	client := bc.client
	if client == nil {
		client, err = llm.NewFromConfig(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("jit: %w", err)
		}
	}

	var store *cache.Store
	if !cfg.Cache.Disabled {
		store = cache.NewStore(cfg.CacheDir(bc.workspace), cfg.CacheIndexPath(bc.workspace))
		defer store.Close()
	}

	coder := engine.New(client, store)
	maxTries := bc.maxTries
	if maxTries == 0 {
		maxTries = cfg.Generation.MaxTries
	}
	outcome, err := coder.Implement(ctx, decl, engine.Options{
		MaxTries: maxTries,
		Cases:    cases,
		Force:    bc.force,
		Confirm:  bc.confirm,
	})
	if err != nil {
		return err
	}

	symbol := strings.SplitN(decl.Name, ".", 2)[0]
	if err := install.Bind(outcome.Entry.FullSource(), symbol, fnPtr); err != nil {
		return fmt.Errorf("jit: installing %s: %w", decl.Name, err)
	}
	if bc.inPlace && fromSource {
		if err := install.Rewrite(decl, outcome.Entry); err != nil {
			return fmt.Errorf("jit: rewriting %s: %w", decl.File, err)
		}
	}
	logging.Install("Bound %s (cached=%v, attempts=%d)", decl.Name, outcome.FromCache, outcome.Attempts)
	return nil
}

// promptContinue asks on the terminal before another attempt is spent.
func promptContinue(try int, failureDetail string) bool {
	if failureDetail != "" {
		fmt.Fprint(os.Stderr, failureDetail)
	}
	fmt.Fprintf(os.Stderr, "Continue to attempt %d? (yes/no): ", try)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "yes", "y", "continue":
		return true
	}
	return false
}

// callerDeclaration looks for a directive-marked declaration named name in
// the file that called Bind.
func callerDeclaration(name string) (declare.Declaration, bool) {
	for skip := 2; skip < 8; skip++ {
		_, file, _, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		if strings.HasSuffix(file, "_test.go") || !strings.HasSuffix(file, ".go") {
			continue
		}
		decl, err := declare.FindByName(file, name)
		if err == nil {
			return decl, true
		}
		break
	}
	return declare.Declaration{}, false
}

// syntheticDeclaration builds a Declaration from a reflected func type for
// callers whose declaration exists only as a typed variable.
func syntheticDeclaration(name, doc string, t reflect.Type) declare.Declaration {
	sig := funcSignature(name, t)
	return declare.Declaration{
		Name:      name,
		Kind:      declare.KindFunc,
		Package:   "main",
		Signature: sig,
		Doc:       doc,
		Source:    sig,
	}
}

func funcSignature(name string, t reflect.Type) string {
	var b strings.Builder
	b.WriteString("func ")
	b.WriteString(name)
	b.WriteString("(")
	for i := 0; i < t.NumIn(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		in := t.In(i)
		if t.IsVariadic() && i == t.NumIn()-1 {
			fmt.Fprintf(&b, "args ...%s", in.Elem().String())
		} else {
			fmt.Fprintf(&b, "arg%d %s", i, in.String())
		}
	}
	b.WriteString(")")
	switch t.NumOut() {
	case 0:
	case 1:
		b.WriteString(" " + t.Out(0).String())
	default:
		outs := make([]string, t.NumOut())
		for i := range outs {
			outs[i] = t.Out(i).String()
		}
		b.WriteString(" (" + strings.Join(outs, ", ") + ")")
	}
	return b.String()
}
