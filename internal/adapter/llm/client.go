package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const chatCompletionsPath = "/v1/chat/completions"

// Client streams chat completions from an OpenAI-compatible endpoint such as
// a LiteLLM proxy.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient creates a client for the API at baseURL. timeout bounds a whole
// completion, stream included.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(baseURL, "/") + chatCompletionsPath,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Wire format of the chat completions API.
type (
	chatRequest struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Tools    []toolDef     `json:"tools,omitempty"`
		Stream   bool          `json:"stream"`
	}

	chatMessage struct {
		Role       string         `json:"role,omitempty"`
		Content    string         `json:"content"`
		ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
		ToolCallID string         `json:"tool_call_id,omitempty"`
	}

	toolDef struct {
		Type     string      `json:"type"`
		Function functionDef `json:"function"`
	}

	functionDef struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	}

	// wireToolCall is a complete call in a request, or a fragment in a
	// stream chunk where Index says which call it extends.
	wireToolCall struct {
		Index    *int   `json:"index,omitempty"`
		ID       string `json:"id,omitempty"`
		Type     string `json:"type,omitempty"`
		Function struct {
			Name      string `json:"name,omitempty"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}

	chunk struct {
		Choices []struct {
			Delta        *chatMessage `json:"delta,omitempty"`
			FinishReason string       `json:"finish_reason,omitempty"`
		} `json:"choices"`
	}
)

// StatusError is a non-200 answer from the endpoint.
type StatusError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("chat completions returned %d: %s", e.StatusCode, e.Message)
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	return msg
}

// IsClientError reports whether err is a 4xx answer from the endpoint.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// streamChat posts req with streaming on and hands every decoded chunk to fn
// until the [DONE] marker or the end of the body. Lines that are not JSON
// data events are skipped.
func (c *Client) streamChat(ctx context.Context, req *chatRequest, fn func(*chunk) error) error {
	req.Stream = true
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		var ch chunk
		if json.Unmarshal([]byte(data), &ch) != nil {
			continue
		}
		if err := fn(&ch); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read completion stream: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp)
}

// statusError builds a StatusError, preferring the API's JSON error body.
func statusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		se.Message = body.Error.Message
		se.Type = body.Error.Type
	}
	return se
}
