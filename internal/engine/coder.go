// Package engine orchestrates the generate -> validate -> cache loop.
//
// Per declaration the life cycle is:
//
//	Unresolved -> Generating -> Validating -> (Resolved | Failed)
//
// with Validating looping back to Generating on test failure until the
// retry budget is spent. Concurrent resolution of the same checksum is
// collapsed to a single generation via singleflight.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"jitgen/internal/cache"
	"jitgen/internal/declare"
	"jitgen/internal/llm"
	"jitgen/internal/logging"
	"jitgen/internal/validate"
)

// ErrValidationExhausted is returned when no candidate passed all test
// cases within the retry budget. It is fatal to the caller.
var ErrValidationExhausted = errors.New("no candidate passed all test cases within the retry budget")

// ErrCancelled is returned when the retry confirmation hook declines to
// continue after a failed attempt.
var ErrCancelled = errors.New("operation cancelled before retry")

// State tracks where a declaration is in its life cycle.
type State int

const (
	StateUnresolved State = iota
	StateGenerating
	StateValidating
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateGenerating:
		return "generating"
	case StateValidating:
		return "validating"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures one implementation run.
type Options struct {
	// MaxTries bounds the generate/validate loop. Zero means five.
	MaxTries int

	// Cases are the caller-supplied test predicates. Never persisted.
	Cases []validate.Case

	// Force bypasses the cache lookup (entries are still written).
	Force bool

	// ValidateTimeout bounds one candidate's test run. Zero means 30s.
	ValidateTimeout time.Duration

	// Confirm, when set, is asked before each retry with the upcoming
	// attempt number and the prior failure detail. Returning false
	// cancels resolution with ErrCancelled. Nil means run unattended.
	Confirm func(try int, failureDetail string) bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxTries <= 0 {
		out.MaxTries = 5
	}
	if out.ValidateTimeout <= 0 {
		out.ValidateTimeout = 30 * time.Second
	}
	return out
}

// Outcome is the result of resolving one declaration.
type Outcome struct {
	Decl      declare.Declaration
	Entry     *cache.Entry
	FromCache bool
	Attempts  int
}

// Coder drives generation, validation, and caching for declarations.
type Coder struct {
	client llm.Client
	store  *cache.Store
	runner *validate.Runner
	group  singleflight.Group
}

// New creates a Coder. The store may be nil, which degrades to
// always-regenerate.
func New(client llm.Client, store *cache.Store) *Coder {
	return &Coder{
		client: client,
		store:  store,
		runner: validate.NewRunner(),
	}
}

// Implement resolves a declaration to a validated implementation, reusing
// the cache when the checksum over (declaration, context, tests) matches.
func (c *Coder) Implement(ctx context.Context, decl declare.Declaration, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()

	bundle, err := declare.CollectContext(decl)
	if err != nil {
		return nil, fmt.Errorf("context collection failed for %s: %w", decl.Name, err)
	}
	checksum := cache.Checksum(decl, bundle, caseSources(opts.Cases))

	// Collapse concurrent resolution of the same declaration: one
	// generation, every waiter gets the result.
	v, err, _ := c.group.Do(checksum, func() (interface{}, error) {
		return c.resolve(ctx, decl, bundle, checksum, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

func (c *Coder) resolve(ctx context.Context, decl declare.Declaration, bundle declare.ContextBundle, checksum string, opts Options) (*Outcome, error) {
	logging.Generation("Resolving %s (checksum %s)", decl.Name, checksum[:12])

	fingerprints := cache.FileFingerprints(bundle)
	if !opts.Force && c.store != nil {
		if entry, ok := c.store.Lookup(decl, checksum, fingerprints); ok {
			return &Outcome{Decl: decl, Entry: entry, FromCache: true}, nil
		}
	}

	attemptID := uuid.NewString()
	symbol := symbolName(decl)
	state := StateGenerating

	var (
		prior         *Candidate
		failureDetail string
		trace         []string
	)

	for try := 1; try <= opts.MaxTries; try++ {
		if try > 1 && opts.Confirm != nil && !opts.Confirm(try, failureDetail) {
			logging.Generation("%s cancelled before attempt %d", decl.Name, try)
			return nil, fmt.Errorf("implementing %s: %w", decl.Name, ErrCancelled)
		}
		logging.Generation("[%s] %s attempt %d/%d state=%s",
			attemptID, decl.Name, try, opts.MaxTries, state)

		var userPrompt string
		if prior == nil {
			userPrompt = buildUserPrompt(decl, bundle, opts.Cases)
		} else {
			userPrompt = buildRetryPrompt(decl, bundle, opts.Cases, prior, failureDetail)
		}

		response, err := c.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
		if err != nil {
			// Client errors are not test failures; surface them.
			return nil, fmt.Errorf("generation failed for %s: %w", decl.Name, err)
		}

		cand, err := parseCandidate(response)
		if err != nil {
			if try == opts.MaxTries {
				return nil, fmt.Errorf("generation failed for %s: %w", decl.Name,
					&llm.GenerationError{Provider: c.client.Provider(), Reason: "malformed output", Err: err})
			}
			failureDetail = fmt.Sprintf("- response format: %v\n", err)
			prior = &Candidate{Code: response}
			continue
		}
		trace = append(trace, cand.Trace...)

		state = StateValidating
		vctx, cancel := context.WithTimeout(ctx, opts.ValidateTimeout)
		report, err := c.runner.Run(vctx, cand.FullSource(), symbol, opts.Cases)
		cancel()

		entry := &cache.Entry{
			Checksum:  checksum,
			Name:      decl.Name,
			DeclFile:  decl.File,
			Package:   decl.Package,
			Version:   try,
			CreatedAt: time.Now().UTC(),
			AttemptID: attemptID,
			Trace:     trace,
			Imports:   cand.Imports,
			Code:      cand.Code,
		}

		switch {
		case err != nil:
			failureDetail = fmt.Sprintf("- candidate rejected: %v\n", err)
		case report.Passed:
			entry.TestsPassed = true
			if c.store != nil {
				if serr := c.store.Store(decl, entry, fingerprints); serr != nil {
					// Cache unavailability is never fatal.
					logging.GenerationWarn("could not cache %s: %v", decl.Name, serr)
				}
			}
			logging.Generation("[%s] %s resolved after %d attempt(s)", attemptID, decl.Name, try)
			return &Outcome{Decl: decl, Entry: entry, Attempts: try}, nil
		default:
			failureDetail = report.FailureDetail()
		}

		if c.store != nil {
			c.store.StoreFailed(decl, entry)
		}
		prior = cand
		state = StateGenerating
	}

	logging.Generation("%s failed: retry budget (%d) exhausted", decl.Name, opts.MaxTries)
	return nil, fmt.Errorf("implementing %s: %w (last failures:\n%s)",
		decl.Name, ErrValidationExhausted, strings.TrimSpace(failureDetail))
}

// caseSources feeds test case identity into the checksum so changed tests
// invalidate cached entries. Expression cases hash their source; function
// predicates hash their label, the only stable identity Go gives us.
func caseSources(cases []validate.Case) []string {
	out := make([]string, 0, len(cases))
	for _, c := range cases {
		if c.Expr != "" {
			out = append(out, c.Label+"\x00"+c.Expr)
		} else {
			out = append(out, c.Label)
		}
	}
	return out
}

// symbolName returns the evaluable symbol for a declaration: the function
// name, or the receiver type for methods.
func symbolName(decl declare.Declaration) string {
	return strings.SplitN(decl.Name, ".", 2)[0]
}
