package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/stream"
	"github.com/xiaot623/gogo/assistant/policy"
	"github.com/xiaot623/gogo/assistant/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	cfg := &config.Config{
		LLMTimeout:            5 * time.Second,
		RequiresActionTimeout: time.Minute,
		StreamBufferSize:      64,
	}
	db := helpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	logger := logging.New(io.Discard, "debug", true)
	svc := service.New(db, llm.NewMockBackend(), engine, stream.New(cfg.StreamBufferSize, logger), cfg, logger)
	t.Cleanup(svc.Close)
	return NewHandler(svc, logger), svc
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	h, svc := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, svc
}

var lookupTool = domain.ToolSpec{
	Type:     domain.ToolCallTypeFunction,
	Function: domain.FunctionSpec{Name: "get_weather"},
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

// setupThread registers an assistant with a tool and a thread holding one
// user message.
func setupThread(t *testing.T, svc *service.Service) (*domain.Assistant, *domain.Thread) {
	t.Helper()
	ctx := context.Background()
	a, err := svc.CreateAssistant(ctx, domain.CreateAssistantRequest{Model: "test-model", Tools: []domain.ToolSpec{lookupTool}})
	require.NoError(t, err)
	th, err := svc.CreateThread(ctx, domain.CreateThreadRequest{
		Messages: []domain.InputMessage{{Role: domain.RoleUser, Content: "weather in Paris?"}},
	})
	require.NoError(t, err)
	return a, th
}

func waitForStatus(t *testing.T, svc *service.Service, threadID, runID string, want domain.RunStatus) *domain.Run {
	t.Helper()
	var run *domain.Run
	require.Eventually(t, func() bool {
		got, err := svc.RetrieveRun(context.Background(), threadID, runID)
		if err != nil {
			return false
		}
		run = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "run %s never reached %s", runID, want)
	return run
}

type sseEvent struct {
	ID   string
	Type string
	Data string
}

// readSSE parses an event stream until the body ends.
func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Type != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func sseTypes(events []sseEvent) []string {
	var types []string
	for _, ev := range events {
		if ev.Type != string(domain.EventTypeRunStepDelta) {
			types = append(types, ev.Type)
		}
	}
	return types
}

func postStream(t *testing.T, url, body string) []sseEvent {
	t.Helper()
	resp, err := http.Post(url, echo.MIMEApplicationJSON, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return readSSE(t, resp.Body)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateAndGetThread(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/threads", `{"messages":[{"role":"user","content":"hi"}],"metadata":{"k":"v"}}`), rec)
	require.NoError(t, h.CreateThread(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var thread domain.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	assert.NotEmpty(t, thread.ID)
	assert.Equal(t, "v", thread.Metadata["k"])

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("thread_id")
	c.SetParamValues(thread.ID)
	require.NoError(t, h.GetThread(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("thread_id")
	c.SetParamValues("thread_missing")
	require.NoError(t, h.GetThread(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_error", decodeError(t, rec).Type)
}

func TestCreateThreadRejectsBadBody(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/threads", `{"messages":`), rec)
	require.NoError(t, h.CreateThread(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_error", decodeError(t, rec).Type)
}

func TestCreateAssistantValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/assistants", `{"name":"no model"}`), rec)
	require.NoError(t, h.CreateAssistant(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/v1/assistants", `{"model":"m","tools":[{"type":"function","function":{"name":"get_weather"}}]}`), rec)
	require.NoError(t, h.CreateAssistant(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var a domain.Assistant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, []string{"get_weather"}, a.FunctionNames())
}

func TestListMessagesQuery(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	_, th := setupThread(t, svc)
	_, err := svc.CreateMessage(context.Background(), th.ID, domain.CreateMessageRequest{Role: domain.RoleUser, Content: "second"})
	require.NoError(t, err)

	list := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?"+query, nil), rec)
		c.SetParamNames("thread_id")
		c.SetParamValues(th.ID)
		require.NoError(t, h.ListMessages(c))
		return rec
	}

	rec := list("order=asc&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.ListResult[domain.Message]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "weather in Paris?", page.Data[0].Text())
	assert.True(t, page.HasMore)

	assert.Equal(t, http.StatusBadRequest, list("limit=ten").Code)
	assert.Equal(t, http.StatusBadRequest, list("order=sideways").Code)
}

func TestStreamedToolRoundTrip(t *testing.T) {
	srv, svc := newTestServer(t)
	a, th := setupThread(t, svc)

	events := postStream(t, srv.URL+"/v1/threads/"+th.ID+"/runs",
		`{"assistant_id":"`+a.ID+`","stream":true}`)
	require.NotEmpty(t, events)
	assert.Equal(t, []string{
		"run.queued",
		"run.in_progress",
		"run.step.created",
		"run.requires_action",
		"done",
	}, sseTypes(events))

	var suspended domain.Run
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].Data), &suspended))
	require.NotNil(t, suspended.RequiredAction)
	calls := suspended.RequiredAction.SubmitToolOutputs.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Function.Name)

	events = postStream(t, srv.URL+"/v1/threads/"+th.ID+"/runs/"+suspended.ID+"/submit_tool_outputs",
		`{"tool_outputs":[{"tool_call_id":"`+calls[0].ID+`","output":"57"}],"stream":true}`)
	assert.Equal(t, []string{
		"run.step.completed",
		"run.in_progress",
		"run.step.created",
		"run.step.completed",
		"message.created",
		"run.completed",
		"done",
	}, sseTypes(events))

	var msg domain.Message
	for _, ev := range events {
		if ev.Type == string(domain.EventTypeMessageCreated) {
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &msg))
		}
	}
	assert.Equal(t, "[MOCK] Tool results: get_weather=57.", msg.Text())

	resp, err := http.Get(srv.URL + "/v1/threads/" + th.ID + "/runs/" + suspended.ID + "/steps?order=asc")
	require.NoError(t, err)
	defer resp.Body.Close()
	var steps domain.ListResult[domain.RunStep]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&steps))
	require.Len(t, steps.Data, 2)
	assert.Equal(t, domain.RunStepTypeToolCalls, steps.Data[0].Type)
	assert.Equal(t, domain.RunStepTypeMessageCreation, steps.Data[1].Type)
}

func TestCreateRunConflictAndCancel(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	a, th := setupThread(t, svc)

	create := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"assistant_id":"`+a.ID+`"}`), rec)
		c.SetParamNames("thread_id")
		c.SetParamValues(th.ID)
		require.NoError(t, h.CreateRun(c))
		return rec
	}

	rec := create()
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)

	rec = create()
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict_error", decodeError(t, rec).Type)

	cancel := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
		c.SetParamNames("thread_id", "run_id")
		c.SetParamValues(th.ID, run.ID)
		require.NoError(t, h.CancelRun(c))
		return rec
	}
	rec = cancel()
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunStatusCancelled, run.Status)

	assert.Equal(t, http.StatusConflict, cancel().Code)
}

func TestSubmitToolOutputsValidation(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	a, th := setupThread(t, svc)
	run, err := svc.CreateRun(context.Background(), th.ID, domain.CreateRunRequest{AssistantID: a.ID})
	require.NoError(t, err)
	waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)

	submit := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
		c.SetParamNames("thread_id", "run_id")
		c.SetParamValues(th.ID, run.ID)
		require.NoError(t, h.SubmitToolOutputs(c))
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, submit(`{"tool_outputs":[]}`).Code)
	assert.Equal(t, http.StatusConflict, submit(`{"tool_outputs":[{"tool_call_id":"call_unknown","output":"x"}]}`).Code)

	got, err := svc.RetrieveRun(context.Background(), th.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRequiresAction, got.Status)
}

func TestModifyRunAndGetStep(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	a, th := setupThread(t, svc)
	run, err := svc.CreateRun(context.Background(), th.ID, domain.CreateRunRequest{AssistantID: a.ID})
	require.NoError(t, err)
	suspended := waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"metadata":{"env":"test"}}`), rec)
	c.SetParamNames("thread_id", "run_id")
	c.SetParamValues(th.ID, run.ID)
	require.NoError(t, h.ModifyRun(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var modified domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &modified))
	assert.Equal(t, "test", modified.Metadata["env"])
	assert.Equal(t, domain.RunStatusRequiresAction, modified.Status)

	steps, err := svc.ListRunSteps(context.Background(), th.ID, run.ID, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, steps.Data, 1)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("thread_id", "run_id", "step_id")
	c.SetParamValues(th.ID, run.ID, steps.Data[0].ID)
	require.NoError(t, h.GetRunStep(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var step domain.RunStep
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &step))
	require.Len(t, step.StepDetails.ToolCalls, 1)
	assert.Equal(t, suspended.RequiredAction.SubmitToolOutputs.ToolCalls[0].ID, step.StepDetails.ToolCalls[0].ID)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("thread_id", "run_id", "step_id")
	c.SetParamValues(th.ID, run.ID, "step_missing")
	require.NoError(t, h.GetRunStep(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunEventsFollowsSubmission(t *testing.T) {
	srv, svc := newTestServer(t)
	a, th := setupThread(t, svc)
	ctx := context.Background()
	run, err := svc.CreateRun(ctx, th.ID, domain.CreateRunRequest{AssistantID: a.ID})
	require.NoError(t, err)
	suspended := waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)

	resp, err := http.Get(srv.URL + "/v1/threads/" + th.ID + "/runs/" + run.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	callID := suspended.RequiredAction.SubmitToolOutputs.ToolCalls[0].ID
	_, err = svc.SubmitToolOutputs(ctx, th.ID, run.ID, domain.SubmitToolOutputsRequest{
		ToolOutputs: []domain.ToolOutput{{ToolCallID: callID, Output: "12"}},
	})
	require.NoError(t, err)

	types := sseTypes(readSSE(t, resp.Body))
	require.NotEmpty(t, types)
	assert.Equal(t, "run.completed", types[len(types)-2])
	assert.Equal(t, "done", types[len(types)-1])
}

func TestRunEventsOnFinishedRun(t *testing.T) {
	srv, svc := newTestServer(t)
	a, th := setupThread(t, svc)
	ctx := context.Background()
	run, err := svc.CreateRun(ctx, th.ID, domain.CreateRunRequest{AssistantID: a.ID})
	require.NoError(t, err)
	waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)
	_, err = svc.CancelRun(ctx, th.ID, run.ID)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/threads/" + th.ID + "/runs/" + run.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, []string{"done"}, sseTypes(readSSE(t, resp.Body)))

	resp, err = http.Get(srv.URL + "/v1/threads/" + th.ID + "/runs/run_missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunWebSocket(t *testing.T) {
	srv, svc := newTestServer(t)
	a, th := setupThread(t, svc)
	run, err := svc.CreateRun(context.Background(), th.ID, domain.CreateRunRequest{AssistantID: a.ID})
	require.NoError(t, err)
	suspended := waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/threads/" + th.ID + "/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"resume"}`)))
	var errMsg wsErrorMessage
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, "invalid_request_error", errMsg.Code)

	callID := suspended.RequiredAction.SubmitToolOutputs.ToolCalls[0].ID
	require.NoError(t, conn.WriteJSON(wsClientMessage{
		Type:        wsTypeSubmitToolOutputs,
		ToolOutputs: []domain.ToolOutput{{ToolCallID: callID, Output: "21"}},
	}))

	var last domain.StreamEvent
	for last.Type != domain.EventTypeRunCompleted {
		var ev domain.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, run.ID, ev.RunID)
		last = ev
	}
	require.NotNil(t, last.Run)
	assert.Equal(t, domain.RunStatusCompleted, last.Run.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func callAPI(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestModifyThreadAndMessageRoutes(t *testing.T) {
	srv, svc := newTestServer(t)
	_, th := setupThread(t, svc)
	base := srv.URL + "/v1/threads/" + th.ID

	status, body := callAPI(t, http.MethodPost, base, `{"metadata":{"topic":"weather"}}`)
	require.Equal(t, http.StatusOK, status)
	var thread domain.Thread
	require.NoError(t, json.Unmarshal(body, &thread))
	assert.Equal(t, th.ID, thread.ID)
	assert.Equal(t, map[string]string{"topic": "weather"}, thread.Metadata)

	page, err := svc.ListMessages(context.Background(), th.ID, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)

	status, body = callAPI(t, http.MethodPost, base+"/messages/"+page.Data[0].ID, `{"metadata":{"pinned":"yes"}}`)
	require.Equal(t, http.StatusOK, status)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "yes", msg.Metadata["pinned"])
	assert.Equal(t, "weather in Paris?", msg.Text())

	status, _ = callAPI(t, http.MethodPost, base+"/messages/msg_missing", `{"metadata":{}}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = callAPI(t, http.MethodPost, srv.URL+"/v1/threads/thread_missing", `{"metadata":{"a":"b"}}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = callAPI(t, http.MethodPost, base, `{"metadata":`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeleteThreadRoute(t *testing.T) {
	srv, svc := newTestServer(t)
	a, th := setupThread(t, svc)
	base := srv.URL + "/v1/threads/" + th.ID

	run, err := svc.CreateRun(context.Background(), th.ID, domain.CreateRunRequest{AssistantID: a.ID})
	require.NoError(t, err)
	waitForStatus(t, svc, th.ID, run.ID, domain.RunStatusRequiresAction)

	status, body := callAPI(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), "conflict_error")

	_, err = svc.CancelRun(context.Background(), th.ID, run.ID)
	require.NoError(t, err)

	status, body = callAPI(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"`+th.ID+`","object":"thread.deleted","deleted":true}`, string(body))

	status, _ = callAPI(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = callAPI(t, http.MethodGet, base+"/runs/"+run.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListAssistantsRoute(t *testing.T) {
	srv, svc := newTestServer(t)
	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		a, err := svc.CreateAssistant(context.Background(), domain.CreateAssistantRequest{Name: name, Model: "test-model"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	status, body := callAPI(t, http.MethodGet, srv.URL+"/v1/assistants?order=asc&limit=2", "")
	require.Equal(t, http.StatusOK, status)
	var page domain.ListResult[domain.Assistant]
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Data, 2)
	assert.Equal(t, ids[:2], []string{page.Data[0].ID, page.Data[1].ID})
	assert.True(t, page.HasMore)

	status, body = callAPI(t, http.MethodGet, srv.URL+"/v1/assistants?order=asc&after="+page.LastID, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "third", page.Data[0].Name)
	assert.False(t, page.HasMore)

	status, _ = callAPI(t, http.MethodGet, srv.URL+"/v1/assistants?limit=0x", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
