package engine

import (
	"fmt"
	"strings"

	"jitgen/internal/declare"
	"jitgen/internal/validate"
)

// systemPrompt instructs the model on output discipline.
const systemPrompt = `You are a senior Go developer tasked with implementing functions and types
from their signatures and doc comments.

Follow these guidelines:

1. Output format:
   - Respond with a single JSON object inside a json code fence:
     {"imports": [...], "code": "...", "chain_of_thought": [...]}
   - Put all import paths in "imports" and the implementation in "code",
     with no import statements inside "code".
   - Record your reasoning steps in "chain_of_thought".

2. Implementation rules:
   - Use only the Go standard library.
   - The implementation must repeat the exact declared signature.
   - Return errors instead of panicking.
   - Optimize for lowest time and space complexity; use appropriate data
     structures.
   - Follow Go naming conventions and write self-documenting code.

Remember: the code must be complete and evaluate standalone. Do not emit
placeholders or TODOs.`

// buildUserPrompt assembles the first-attempt prompt from the declaration,
// its context bundle, and the test cases the candidate must satisfy.
func buildUserPrompt(decl declare.Declaration, bundle declare.ContextBundle, cases []validate.Case) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Implement the following Go %s.\n\n", decl.Kind)
	sb.WriteString("Declaration:\n```go\n")
	sb.WriteString(strings.TrimSpace(decl.Source))
	sb.WriteString("\n```\n")

	if decl.Doc != "" {
		fmt.Fprintf(&sb, "\nDocumentation:\n%s\n", decl.Doc)
	}

	if !bundle.Empty() {
		sb.WriteString("\nThese custom types are referenced by the declaration:\n```go\n")
		sb.WriteString(strings.TrimSpace(bundle.Combined()))
		sb.WriteString("\n```\n")
	}

	if len(cases) > 0 {
		sb.WriteString("\nThe implementation must satisfy these test cases:\n")
		for _, c := range cases {
			if c.Expr != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", c.Label, c.Expr)
			} else {
				fmt.Fprintf(&sb, "- %s\n", c.Label)
			}
		}
	}

	sb.WriteString("\nRespond with the JSON object described in the system instructions.")
	return sb.String()
}

// buildRetryPrompt augments the prompt with the failed candidate and its
// failure detail so the next attempt does not repeat the mistakes.
func buildRetryPrompt(decl declare.Declaration, bundle declare.ContextBundle, cases []validate.Case, prior *Candidate, failureDetail string) string {
	var sb strings.Builder
	sb.WriteString("Your previous implementation failed validation.\n\n")
	sb.WriteString("--- FAILURES ---\n")
	sb.WriteString(strings.TrimSpace(failureDetail))
	sb.WriteString("\n\n--- PREVIOUS CODE (DO NOT REPEAT THESE MISTAKES) ---\n```go\n")
	sb.WriteString(strings.TrimSpace(prior.FullSource()))
	sb.WriteString("\n```\n\n")
	sb.WriteString(buildUserPrompt(decl, bundle, cases))
	return sb.String()
}
