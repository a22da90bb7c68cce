package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Client talks to the assistant API: REST for requests, the run WebSocket for
// following a run.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewClient creates a client for the API at baseURL (http or https).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		dialer:  websocket.DefaultDialer,
	}
}

// APIError is a non-2xx API response.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Type, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Type: apiErr.Error.Type, Message: apiErr.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateAssistant registers an assistant.
func (c *Client) CreateAssistant(ctx context.Context, req domain.CreateAssistantRequest) (*domain.Assistant, error) {
	var a domain.Assistant
	if err := c.do(ctx, http.MethodPost, "/v1/assistants", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Send posts a user message and starts a run. An empty threadID starts a new
// thread.
func (c *Client) Send(ctx context.Context, threadID, assistantID, content string) (*domain.Run, error) {
	var run domain.Run
	if threadID == "" {
		err := c.do(ctx, http.MethodPost, "/v1/threads/runs", domain.CreateThreadAndRunRequest{
			AssistantID: assistantID,
			Thread: domain.CreateThreadRequest{
				Messages: []domain.InputMessage{{Role: domain.RoleUser, Content: content}},
			},
		}, &run)
		if err != nil {
			return nil, err
		}
		return &run, nil
	}

	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/messages",
		domain.CreateMessageRequest{Role: domain.RoleUser, Content: content}, nil); err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/runs",
		domain.CreateRunRequest{AssistantID: assistantID}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun returns a run snapshot.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodGet, "/v1/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestMessage returns the newest message of a thread, or nil.
func (c *Client) LatestMessage(ctx context.Context, threadID string) (*domain.Message, error) {
	var page domain.ListResult[domain.Message]
	if err := c.do(ctx, http.MethodGet, "/v1/threads/"+threadID+"/messages?limit=1", nil, &page); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return &page.Data[0], nil
}

// AnswerFunc produces the output of one tool call.
type AnswerFunc func(call domain.ToolCall) (string, error)

type socketMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Follow streams a run's output to out until it finishes, resolving tool calls
// with answer. It returns the run's final snapshot.
func (c *Client) Follow(ctx context.Context, run *domain.Run, out io.Writer, answer AnswerFunc) (*domain.Run, error) {
	wsURL, err := c.socketURL(run.ThreadID, run.ID)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	answered := make(map[string]bool)
	submit := func(r *domain.Run) error {
		outputs, err := resolveCalls(r, answered, answer)
		if err != nil || len(outputs) == 0 {
			return err
		}
		if err := conn.WriteJSON(map[string]any{
			"type":         "submit_tool_outputs",
			"tool_outputs": outputs,
		}); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	}

	// The run may have suspended before the socket subscribed.
	snapshot, err := c.GetRun(ctx, run.ThreadID, run.ID)
	if err != nil {
		return nil, err
	}
	if snapshot.Status == domain.RunStatusRequiresAction {
		if err := submit(snapshot); err != nil {
			return nil, err
		}
	}

	streamed := make(map[string]*strings.Builder)
	sawMessage := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("read: %w", err)
			}
			break
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "error" {
			fmt.Fprintf(out, "\n[error] %s: %s\n", msg.Code, msg.Message)
			continue
		}

		var ev domain.StreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		switch ev.Type {
		case domain.EventTypeRunStepDelta:
			b := streamed[ev.Delta.StepID]
			if b == nil {
				b = &strings.Builder{}
				streamed[ev.Delta.StepID] = b
			}
			b.WriteString(ev.Delta.Content)
			fmt.Fprint(out, ev.Delta.Content)

		case domain.EventTypeMessageCreated:
			sawMessage = true
			text := ev.Message.Text()
			if !wasStreamed(streamed, text) {
				fmt.Fprint(out, text)
			}
			fmt.Fprintln(out)

		case domain.EventTypeRunRequiresAction:
			if err := submit(ev.Run); err != nil {
				return nil, err
			}

		case domain.EventTypeRunFailed:
			if ev.Run != nil && ev.Run.LastError != nil {
				fmt.Fprintf(out, "\n[failed] %s: %s\n", ev.Run.LastError.Code, ev.Run.LastError.Message)
			}
		}
	}

	final, err := c.GetRun(ctx, run.ThreadID, run.ID)
	if err != nil {
		return nil, err
	}
	// The run may have finished before the socket subscribed.
	if !sawMessage && final.Status == domain.RunStatusCompleted {
		msg, err := c.LatestMessage(ctx, run.ThreadID)
		if err != nil {
			return nil, err
		}
		if msg != nil && msg.RunID == run.ID {
			fmt.Fprintln(out, msg.Text())
		}
	}
	return final, nil
}

func wasStreamed(streamed map[string]*strings.Builder, text string) bool {
	for _, b := range streamed {
		if b.String() == text {
			return true
		}
	}
	return false
}

// resolveCalls answers the run's pending calls that are not in answered yet.
func resolveCalls(run *domain.Run, answered map[string]bool, answer AnswerFunc) ([]domain.ToolOutput, error) {
	if run == nil || run.RequiredAction == nil {
		return nil, fmt.Errorf("requires_action without tool calls")
	}
	var outputs []domain.ToolOutput
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		if answered[call.ID] {
			continue
		}
		answered[call.ID] = true
		output, err := answer(call)
		if err != nil {
			return nil, fmt.Errorf("answer %s: %w", call.Function.Name, err)
		}
		outputs = append(outputs, domain.ToolOutput{ToolCallID: call.ID, Output: output})
	}
	return outputs, nil
}

func (c *Client) socketURL(threadID, runID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/threads/" + threadID + "/runs/" + runID + "/ws"
	return u.String(), nil
}
