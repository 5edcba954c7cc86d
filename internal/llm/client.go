// Package llm provides generation clients for external model endpoints.
// All clients request deterministic output: sampling temperature is pinned
// at zero so identical input reproduces identical cached output.
package llm

import (
	"context"
	"fmt"
)

// Client is the interface all generation backends implement.
type Client interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Model returns the model identifier in use.
	Model() string

	// Provider returns the backend name, e.g. "openai".
	Provider() string
}

// GenerationError reports an unreachable endpoint or a malformed response.
// It is surfaced after the client's bounded retry budget is spent.
type GenerationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s generation failed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s generation failed: %s", e.Provider, e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }
