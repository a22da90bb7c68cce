package domain

// Run represents a single execution of an assistant against a thread.
type Run struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	ThreadID       string            `json:"thread_id"`
	AssistantID    string            `json:"assistant_id"`
	Status         RunStatus         `json:"status"`
	Model          string            `json:"model"`
	Instructions   string            `json:"instructions,omitempty"`
	RequiredAction *RequiredAction   `json:"required_action,omitempty"`
	LastError      *LastError        `json:"last_error,omitempty"`
	CreatedAt      int64             `json:"created_at"`
	StartedAt      *int64            `json:"started_at,omitempty"`
	ExpiresAt      *int64            `json:"expires_at,omitempty"`
	CancelledAt    *int64            `json:"cancelled_at,omitempty"`
	FailedAt       *int64            `json:"failed_at,omitempty"`
	CompletedAt    *int64            `json:"completed_at,omitempty"`
	ExpiredAt      *int64            `json:"expired_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so snapshots never share mutable state.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.StartedAt = cloneInt64(r.StartedAt)
	out.ExpiresAt = cloneInt64(r.ExpiresAt)
	out.CancelledAt = cloneInt64(r.CancelledAt)
	out.FailedAt = cloneInt64(r.FailedAt)
	out.CompletedAt = cloneInt64(r.CompletedAt)
	out.ExpiredAt = cloneInt64(r.ExpiredAt)
	if r.LastError != nil {
		le := *r.LastError
		out.LastError = &le
	}
	if r.RequiredAction != nil {
		calls := make([]ToolCall, len(r.RequiredAction.SubmitToolOutputs.ToolCalls))
		copy(calls, r.RequiredAction.SubmitToolOutputs.ToolCalls)
		out.RequiredAction = &RequiredAction{
			Type:              r.RequiredAction.Type,
			SubmitToolOutputs: SubmitToolOutputsAction{ToolCalls: calls},
		}
	}
	out.Metadata = cloneMetadata(r.Metadata)
	return &out
}

// RequiredActionSubmitToolOutputs is the only required action type.
const RequiredActionSubmitToolOutputs = "submit_tool_outputs"

// RequiredAction describes what the caller must do to resume a suspended run.
type RequiredAction struct {
	Type              string                  `json:"type"`
	SubmitToolOutputs SubmitToolOutputsAction `json:"submit_tool_outputs"`
}

// SubmitToolOutputsAction lists the tool calls that must be resolved.
type SubmitToolOutputsAction struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// LastError records why a run failed.
type LastError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ToolCallTypeFunction is the only tool call type.
const ToolCallTypeFunction = "function"

// ToolCall is one function invocation the caller must resolve.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`

	RunID  string `json:"-"`
	StepID string `json:"-"`
}

// FunctionCall is the function part of a tool call. Output is nil while pending.
type FunctionCall struct {
	Name      string  `json:"name"`
	Arguments string  `json:"arguments"`
	Output    *string `json:"output,omitempty"`
}

// Pending reports whether the call still awaits its output.
func (tc ToolCall) Pending() bool {
	return tc.Function.Output == nil
}

// RunStep is a discrete unit of progress within a run.
type RunStep struct {
	ID          string        `json:"id"`
	Object      string        `json:"object"`
	RunID       string        `json:"run_id"`
	ThreadID    string        `json:"thread_id"`
	AssistantID string        `json:"assistant_id"`
	Type        RunStepType   `json:"type"`
	Status      RunStepStatus `json:"status"`
	StepDetails StepDetails   `json:"step_details"`
	LastError   *LastError    `json:"last_error,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	CompletedAt *int64        `json:"completed_at,omitempty"`
	FailedAt    *int64        `json:"failed_at,omitempty"`
	CancelledAt *int64        `json:"cancelled_at,omitempty"`
	ExpiredAt   *int64        `json:"expired_at,omitempty"`

	Seq int64 `json:"-"`
}

// StepDetails carries the type-specific payload of a run step.
type StepDetails struct {
	Type            RunStepType      `json:"type"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
}

// MessageCreation references the message a step produced.
type MessageCreation struct {
	MessageID string `json:"message_id"`
}

// ToolOutput resolves one pending tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToolRound is one resolved batch of calls, replayed to the model as context.
type ToolRound struct {
	Calls []ToolCall
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
