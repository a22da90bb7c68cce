// Package llm provides the inference backends that drive runs.
package llm

import (
	"context"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Backend produces the next assistant turn for a run.
type Backend interface {
	// Complete returns either assistant text or a batch of function calls.
	// onDelta, when set, receives text fragments as they are produced; an
	// error from it aborts the completion.
	Complete(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) (*Completion, error)
}

// DeltaFunc receives an incremental text fragment.
type DeltaFunc func(text string) error

// CompletionRequest is everything the model sees for one turn.
type CompletionRequest struct {
	Model        string
	Instructions string
	Messages     []domain.Message
	Tools        []domain.ToolSpec
	// ToolRounds holds the run's resolved tool-call batches, oldest first.
	ToolRounds []domain.ToolRound
}

// Completion is the result of one turn.
type Completion struct {
	Content   string
	ToolCalls []domain.FunctionCall
}

// HasToolCalls reports whether the model asked for function calls.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

// ChatBackend drives runs through an OpenAI-compatible chat completions API.
type ChatBackend struct {
	client *Client
}

// NewChatBackend wraps client as a Backend.
func NewChatBackend(client *Client) *ChatBackend {
	return &ChatBackend{client: client}
}

var _ Backend = (*ChatBackend)(nil)

// Complete streams a chat completion and assembles its text and tool calls.
func (b *ChatBackend) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) (*Completion, error) {
	chatReq := buildChatRequest(req)

	var content strings.Builder
	calls := make(map[int]*wireToolCall)
	err := b.client.streamChat(ctx, chatReq, func(ch *chunk) error {
		for _, choice := range ch.Choices {
			if choice.Delta == nil {
				continue
			}
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if onDelta != nil {
					if err := onDelta(choice.Delta.Content); err != nil {
						return err
					}
				}
			}
			for i, fragment := range choice.Delta.ToolCalls {
				idx := i
				if fragment.Index != nil {
					idx = *fragment.Index
				}
				call, ok := calls[idx]
				if !ok {
					call = &wireToolCall{}
					calls[idx] = call
				}
				if fragment.ID != "" {
					call.ID = fragment.ID
				}
				if fragment.Function.Name != "" {
					call.Function.Name = fragment.Function.Name
				}
				call.Function.Arguments += fragment.Function.Arguments
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Completion{Content: content.String()}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := calls[idx]
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, domain.FunctionCall{Name: call.Function.Name, Arguments: args})
	}
	return out, nil
}

// buildChatRequest renders a completion request as chat messages: the
// instructions, the thread history, then every resolved tool round as an
// assistant tool_calls message followed by one tool message per output.
func buildChatRequest(req CompletionRequest) *chatRequest {
	chatReq := &chatRequest{Model: req.Model}
	if req.Instructions != "" {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "system", Content: req.Instructions})
	}
	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: string(msg.Role), Content: msg.Text()})
	}
	for _, round := range req.ToolRounds {
		assistant := chatMessage{Role: "assistant"}
		for _, tc := range round.Calls {
			call := wireToolCall{ID: tc.ID, Type: domain.ToolCallTypeFunction}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			assistant.ToolCalls = append(assistant.ToolCalls, call)
		}
		chatReq.Messages = append(chatReq.Messages, assistant)
		for _, tc := range round.Calls {
			var output string
			if tc.Function.Output != nil {
				output = *tc.Function.Output
			}
			chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "tool", ToolCallID: tc.ID, Content: output})
		}
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, toolDef{
			Type: domain.ToolCallTypeFunction,
			Function: functionDef{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return chatReq
}
