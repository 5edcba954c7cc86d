package engine

import (
	"context"
	"fmt"
	"sync"
)

// MockLLMClient returns scripted responses in order and records every
// prompt it receives.
type MockLLMClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     int
	Systems   []string
	Prompts   []string
}

func (m *MockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *MockLLMClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.Systems = append(m.Systems, systemPrompt)
	m.Prompts = append(m.Prompts, userPrompt)

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock: no scripted response for call %d", m.Calls)
	}
	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return resp, nil
}

func (m *MockLLMClient) Model() string { return "mock-model" }

func (m *MockLLMClient) Provider() string { return "mock" }

// jsonResponse wraps a candidate payload the way the protocol asks for it.
func jsonResponse(body string) string {
	return "```json\n" + body + "\n```"
}
