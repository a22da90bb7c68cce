package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// MockBackend is a deterministic Backend for local runs without a model.
//
// When the assistant declares tools and the run has not resolved any yet, it
// calls the first tool with the last user message as input. Otherwise it
// answers with text, echoing tool outputs when there are some.
type MockBackend struct{}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

var _ Backend = (*MockBackend)(nil)

// Complete returns a mock turn, streaming text in small chunks.
func (m *MockBackend) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lastUser := lastUserText(req)
	if len(req.Tools) > 0 && len(req.ToolRounds) == 0 {
		args, _ := json.Marshal(map[string]string{"input": truncate(lastUser, 100)})
		return &Completion{ToolCalls: []domain.FunctionCall{{
			Name:      req.Tools[0].Function.Name,
			Arguments: string(args),
		}}}, nil
	}

	content := m.generateMockResponse(req, lastUser)
	for _, chunk := range splitIntoChunks(content, 10) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onDelta != nil {
			if err := onDelta(chunk); err != nil {
				return nil, err
			}
		}
	}
	return &Completion{Content: content}, nil
}

func (m *MockBackend) generateMockResponse(req CompletionRequest, lastUser string) string {
	if n := len(req.ToolRounds); n > 0 {
		var outputs []string
		for _, tc := range req.ToolRounds[n-1].Calls {
			if tc.Function.Output != nil {
				outputs = append(outputs, fmt.Sprintf("%s=%s", tc.Function.Name, *tc.Function.Output))
			}
		}
		return fmt.Sprintf("[MOCK] Tool results: %s.", strings.Join(outputs, ", "))
	}
	if lastUser == "" {
		return "[MOCK] This is a mock response."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUser, 100))
}

func lastUserText(req CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Text()
		}
	}
	return ""
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	var chunks []string
	runes := []rune(s)
	for i := 0; i < len(runes); i += chunkSize {
		end := min(i+chunkSize, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
