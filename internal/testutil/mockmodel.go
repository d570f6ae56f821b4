package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the Genkit name the mock model registers under.
const MockModelName = "mock/archivist-model"

// MockModel provides deterministic model responses for tests. Rules
// match a case-insensitive substring of the last user message; the
// first registered match wins and the fallback covers the rest. A rule
// may carry tool requests, which lets tests script the tool-call loop.
//
// Safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    int
	reqs     []*ai.ModelRequest
}

type mockRule struct {
	pattern string
	text    string
	tools   []*ai.ToolRequest
}

// NewMockModel creates a mock model returning fallback when no rule
// matches.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{fallback: fallback}
}

// Respond registers a pattern-to-text rule.
func (m *MockModel) Respond(pattern, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), text: text})
}

// RespondWithTools registers a rule whose response requests tool calls
// alongside the text.
func (m *MockModel) RespondWithTools(pattern, text string, tools ...*ai.ToolRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), text: text, tools: tools})
}

// Calls reports how many generate requests the mock has served.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the generate requests served so far, oldest first.
// Tests use this to inspect the message history a call carried, e.g.
// the tool-response message assembled after a tool round.
func (m *MockModel) Requests() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ai.ModelRequest, len(m.reqs))
	copy(out, m.reqs)
	return out
}

// Register defines the mock as a Genkit model and returns its name for
// use with ai.WithModelName.
func (m *MockModel) Register(g *genkit.Genkit) string {
	genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Archivist Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      true,
		},
	}, m.generate)
	return MockModelName
}

func (m *MockModel) generate(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	m.calls++
	m.reqs = append(m.reqs, req)
	var matched *mockRule
	lower := strings.ToLower(userText)
	for i := range m.rules {
		if strings.Contains(lower, m.rules[i].pattern) {
			matched = &m.rules[i]
			break
		}
	}
	m.mu.Unlock()

	text := m.fallback
	var parts []*ai.Part
	if matched != nil {
		text = matched.text
		for _, tr := range matched.tools {
			parts = append(parts, &ai.Part{Kind: ai.PartToolRequest, ToolRequest: tr})
		}
	}
	parts = append(parts, ai.NewTextPart(text))

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: parts},
	}, nil
}
