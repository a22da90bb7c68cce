package domain

import (
	"encoding/json"
	"strings"
)

// Thread is a persistent conversation.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"` // Unix milliseconds
	Metadata  map[string]string `json:"metadata,omitempty"`

	// ActiveRunID is the non-terminal run currently owning the thread.
	ActiveRunID string `json:"-"`
}

// ContentPart is one ordered part of a message body.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent builds a single text content part.
func TextContent(text string) []ContentPart {
	return []ContentPart{{Type: "text", Text: text}}
}

// Message is an append-only entry in a thread's log.
type Message struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	ThreadID    string            `json:"thread_id"`
	Role        Role              `json:"role"`
	Content     []ContentPart     `json:"content"`
	CreatedAt   int64             `json:"created_at"`
	RunID       string            `json:"run_id,omitempty"`
	AssistantID string            `json:"assistant_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Seq is the store's insertion sequence; it breaks created_at ties.
	Seq int64 `json:"-"`
}

// Text joins the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for i, part := range m.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// FunctionSpec declares a function the model may call.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolSpec is a tool declared on an assistant. Only function tools are supported.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// Assistant is an immutable model + tools configuration referenced by runs.
type Assistant struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Name         string            `json:"name,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Model        string            `json:"model"`
	Tools        []ToolSpec        `json:"tools"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    int64             `json:"created_at"`
}

// HasFunction reports whether the assistant declares a function named name.
func (a Assistant) HasFunction(name string) bool {
	for _, t := range a.Tools {
		if t.Function.Name == name {
			return true
		}
	}
	return false
}

// FunctionNames lists the declared function names in declaration order.
func (a Assistant) FunctionNames() []string {
	names := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		names = append(names, t.Function.Name)
	}
	return names
}
