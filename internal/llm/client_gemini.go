package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"jitgen/internal/logging"
)

// GeminiClient implements Client using the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// GeminiConfig configures a Gemini client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{client: client, model: cfg.Model}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
// Temperature is always zero for reproducible generation.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	startTime := time.Now()
	logging.APIDebug("[Gemini] CompleteWithSystem: model=%s system_len=%d user_len=%d",
		c.model, len(systemPrompt), len(userPrompt))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		logging.APIError("[Gemini] request failed after %v: %v", time.Since(startTime), err)
		return "", &GenerationError{Provider: "gemini", Reason: "endpoint unreachable", Err: err}
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &GenerationError{Provider: "gemini", Reason: "no completion returned"}
	}

	logging.API("[Gemini] completed in %v response_len=%d", time.Since(startTime), len(text))
	return text, nil
}

// Model returns the current model.
func (c *GeminiClient) Model() string {
	return c.model
}

// Provider identifies the backend.
func (c *GeminiClient) Provider() string {
	return "gemini"
}
