package domain

// InputMessage is a message supplied by the caller.
type InputMessage struct {
	Role     Role              `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateThreadRequest creates a thread, optionally seeded with messages.
type CreateThreadRequest struct {
	Messages []InputMessage    `json:"messages,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateMessageRequest appends a message to a thread.
type CreateMessageRequest struct {
	Role     Role              `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateAssistantRequest registers an assistant.
type CreateAssistantRequest struct {
	Name         string            `json:"name,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Model        string            `json:"model"`
	Tools        []ToolSpec        `json:"tools,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateRunRequest starts a run on an existing thread.
type CreateRunRequest struct {
	AssistantID        string            `json:"assistant_id"`
	Model              string            `json:"model,omitempty"`
	Instructions       string            `json:"instructions,omitempty"`
	AdditionalMessages []InputMessage    `json:"additional_messages,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Stream             bool              `json:"stream,omitempty"`
}

// CreateThreadAndRunRequest creates a thread and starts a run on it.
type CreateThreadAndRunRequest struct {
	AssistantID  string              `json:"assistant_id"`
	Thread       CreateThreadRequest `json:"thread"`
	Model        string              `json:"model,omitempty"`
	Instructions string              `json:"instructions,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	Stream       bool                `json:"stream,omitempty"`
}

// SubmitToolOutputsRequest resolves a suspended run's tool calls.
type SubmitToolOutputsRequest struct {
	ToolOutputs []ToolOutput `json:"tool_outputs"`
	Stream      bool         `json:"stream,omitempty"`
}

// ModifyRunRequest updates a run's metadata.
type ModifyRunRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// ModifyThreadRequest updates a thread's metadata.
type ModifyThreadRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// ModifyMessageRequest updates a message's metadata. Content is immutable.
type ModifyMessageRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// DeletionStatus acknowledges a deleted object.
type DeletionStatus struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// ListOptions controls pagination of list operations.
type ListOptions struct {
	Order  ListOrder
	After  string
	Before string
	Limit  int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize fills defaults and validates the options.
func (o ListOptions) Normalize() (ListOptions, error) {
	if o.Order == "" {
		o.Order = ListOrderDesc
	}
	if o.Order != ListOrderAsc && o.Order != ListOrderDesc {
		return o, Validationf("order must be asc or desc, got %q", o.Order)
	}
	if o.Limit == 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit < 1 || o.Limit > MaxListLimit {
		return o, Validationf("limit must be between 1 and %d", MaxListLimit)
	}
	return o, nil
}

// ListResult is one page of an ordered listing.
type ListResult[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}
