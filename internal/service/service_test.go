package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/stream"
	"github.com/xiaot623/gogo/assistant/policy"
	"github.com/xiaot623/gogo/assistant/tests/helpers"
)

type turnFunc func(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error)

// scriptedBackend plays one turnFunc per Complete call and records requests.
type scriptedBackend struct {
	mu       sync.Mutex
	turns    []turnFunc
	requests []llm.CompletionRequest
}

func newScriptedBackend(turns ...turnFunc) *scriptedBackend {
	return &scriptedBackend{turns: turns}
}

func (b *scriptedBackend) Complete(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	if len(b.turns) == 0 {
		b.mu.Unlock()
		return nil, errors.New("no scripted turn left")
	}
	next := b.turns[0]
	b.turns = b.turns[1:]
	b.mu.Unlock()
	return next(ctx, req, onDelta)
}

func (b *scriptedBackend) Push(turns ...turnFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, turns...)
}

func (b *scriptedBackend) Requests() []llm.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]llm.CompletionRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// reply streams text in two fragments.
func reply(text string) turnFunc {
	return func(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error) {
		half := len(text) / 2
		for _, part := range []string{text[:half], text[half:]} {
			if part == "" {
				continue
			}
			if err := onDelta(part); err != nil {
				return nil, err
			}
		}
		return &llm.Completion{Content: text}, nil
	}
}

// replyWithOutputs answers with the outputs of the latest tool round.
func replyWithOutputs() turnFunc {
	return func(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error) {
		text := "no tools"
		if n := len(req.ToolRounds); n > 0 {
			text = "outputs:"
			for _, tc := range req.ToolRounds[n-1].Calls {
				text += " " + tc.Function.Name + "=" + *tc.Function.Output
			}
		}
		return reply(text)(ctx, req, onDelta)
	}
}

func callTools(calls ...domain.FunctionCall) turnFunc {
	return func(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error) {
		return &llm.Completion{ToolCalls: calls}, nil
	}
}

func failWith(err error) turnFunc {
	return func(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error) {
		return nil, err
	}
}

// gated blocks until release is closed or the turn is cancelled, then answers
// anyway, like a backend that ignores cancellation.
func gated(started chan<- struct{}, release <-chan struct{}, text string) turnFunc {
	return func(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (*llm.Completion, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &llm.Completion{Content: text}, nil
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		LLMTimeout:            5 * time.Second,
		RequiresActionTimeout: time.Minute,
		ExpirySweepInterval:   10 * time.Millisecond,
		StreamBufferSize:      64,
	}
}

func newTestService(t *testing.T, backend llm.Backend) (*Service, *store.SQLiteStore) {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	return newTestServiceOn(t, backend, db), db
}

func newTestServiceOn(t *testing.T, backend llm.Backend, db store.Store) *Service {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := testConfig()
	logger := logging.New(io.Discard, "debug", true)
	svc := New(db, backend, engine, stream.New(cfg.StreamBufferSize, logger), cfg, logger)
	t.Cleanup(svc.Close)
	return svc
}

var weatherTool = domain.ToolSpec{
	Type: domain.ToolCallTypeFunction,
	Function: domain.FunctionSpec{
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	},
}

func createAssistant(t *testing.T, svc *Service, tools ...domain.ToolSpec) *domain.Assistant {
	t.Helper()
	a, err := svc.CreateAssistant(context.Background(), domain.CreateAssistantRequest{
		Name:         "helper",
		Instructions: "be brief",
		Model:        "test-model",
		Tools:        tools,
	})
	require.NoError(t, err)
	return a
}

func createThread(t *testing.T, svc *Service, texts ...string) *domain.Thread {
	t.Helper()
	var msgs []domain.InputMessage
	for _, text := range texts {
		msgs = append(msgs, domain.InputMessage{Role: domain.RoleUser, Content: text})
	}
	thread, err := svc.CreateThread(context.Background(), domain.CreateThreadRequest{Messages: msgs})
	require.NoError(t, err)
	return thread
}

func waitForStatus(t *testing.T, svc *Service, run *domain.Run, want domain.RunStatus) *domain.Run {
	t.Helper()
	var got *domain.Run
	require.Eventually(t, func() bool {
		r, err := svc.RetrieveRun(context.Background(), run.ThreadID, run.ID)
		if err != nil {
			return false
		}
		got = r
		return r.Status == want
	}, 5*time.Second, 5*time.Millisecond, "run %s never reached %s", run.ID, want)
	return got
}

// collectUntil reads events until the session ends or an event of type stop
// arrives.
func collectUntil(t *testing.T, sub *stream.Subscription, stop domain.EventType) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Type == stop {
				return events
			}
		case <-timeout:
			t.Fatalf("stream did not finish, got %v", eventTypes(events))
		}
	}
}

func eventTypes(events []domain.StreamEvent) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

// withoutDeltas drops run.step.delta events, whose count depends on chunking.
func withoutDeltas(types []domain.EventType) []domain.EventType {
	out := types[:0:0]
	for _, typ := range types {
		if typ != domain.EventTypeRunStepDelta {
			out = append(out, typ)
		}
	}
	return out
}

func TestCreateThreadWithMessages(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newScriptedBackend())

	thread, err := svc.CreateThread(ctx, domain.CreateThreadRequest{
		Messages: []domain.InputMessage{{Content: "hello"}, {Role: domain.RoleAssistant, Content: "hi"}},
		Metadata: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "thread", thread.Object)

	got, err := svc.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got.Metadata)

	page, err := svc.ListMessages(ctx, thread.ID, domain.ListOptions{Order: domain.ListOrderAsc})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, domain.RoleUser, page.Data[0].Role)
	assert.Equal(t, "hello", page.Data[0].Text())
	assert.Equal(t, domain.RoleAssistant, page.Data[1].Role)
	assert.Empty(t, page.Data[0].RunID)
	assert.Equal(t, page.Data[0].ID, page.FirstID)
	assert.Equal(t, page.Data[1].ID, page.LastID)
	assert.False(t, page.HasMore)
}

func TestCreateThreadRejectsInvalidMessages(t *testing.T) {
	svc, _ := newTestService(t, newScriptedBackend())

	_, err := svc.CreateThread(context.Background(), domain.CreateThreadRequest{
		Messages: []domain.InputMessage{{Role: "system", Content: "x"}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateThread(context.Background(), domain.CreateThreadRequest{
		Messages: []domain.InputMessage{{Content: "  "}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetThreadNotFound(t *testing.T) {
	svc, _ := newTestService(t, newScriptedBackend())
	_, err := svc.GetThread(context.Background(), "thread_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateMessageAndPaginate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newScriptedBackend())
	thread := createThread(t, svc)

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		msg, err := svc.CreateMessage(ctx, thread.ID, domain.CreateMessageRequest{Content: text})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleUser, msg.Role)
		ids = append(ids, msg.ID)
	}

	desc, err := svc.ListMessages(ctx, thread.ID, domain.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, desc.Data, 2)
	assert.Equal(t, ids[2], desc.Data[0].ID)
	assert.Equal(t, ids[1], desc.Data[1].ID)
	assert.True(t, desc.HasMore)

	rest, err := svc.ListMessages(ctx, thread.ID, domain.ListOptions{Limit: 2, After: desc.LastID})
	require.NoError(t, err)
	require.Len(t, rest.Data, 1)
	assert.Equal(t, ids[0], rest.Data[0].ID)
	assert.False(t, rest.HasMore)

	got, err := svc.GetMessage(ctx, thread.ID, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "two", got.Text())

	_, err = svc.ListMessages(ctx, thread.ID, domain.ListOptions{After: "msg_unknown"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.ListMessages(ctx, thread.ID, domain.ListOptions{Limit: 500})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.GetMessage(ctx, thread.ID, "msg_unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateAssistantValidatesTools(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newScriptedBackend())

	a := createAssistant(t, svc, weatherTool)
	got, err := svc.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"get_weather"}, got.FunctionNames())

	cases := map[string]domain.CreateAssistantRequest{
		"missing model": {},
		"bad name": {Model: "m", Tools: []domain.ToolSpec{{Function: domain.FunctionSpec{Name: "bad name"}}}},
		"duplicate": {Model: "m", Tools: []domain.ToolSpec{weatherTool, weatherTool}},
		"non-object schema": {Model: "m", Tools: []domain.ToolSpec{{Function: domain.FunctionSpec{
			Name: "f", Parameters: json.RawMessage(`{"type":"string"}`),
		}}}},
		"undeclared required": {Model: "m", Tools: []domain.ToolSpec{{Function: domain.FunctionSpec{
			Name: "f", Parameters: json.RawMessage(`{"type":"object","required":["x"]}`),
		}}}},
		"unsupported type": {Model: "m", Tools: []domain.ToolSpec{{Type: "code_interpreter", Function: domain.FunctionSpec{Name: "f"}}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateAssistant(ctx, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestModifyThreadAndMessageMetadata(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newScriptedBackend())
	thread := createThread(t, svc, "hello")

	modified, err := svc.ModifyThread(ctx, thread.ID, domain.ModifyThreadRequest{Metadata: map[string]string{"topic": "greetings"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "greetings"}, modified.Metadata)
	assert.Equal(t, thread.CreatedAt, modified.CreatedAt)

	// Metadata is replaced, not merged.
	modified, err = svc.ModifyThread(ctx, thread.ID, domain.ModifyThreadRequest{Metadata: map[string]string{"lang": "en"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "en"}, modified.Metadata)

	page, err := svc.ListMessages(ctx, thread.ID, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	msg := page.Data[0]

	updated, err := svc.ModifyMessage(ctx, thread.ID, msg.ID, domain.ModifyMessageRequest{Metadata: map[string]string{"pinned": "yes"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pinned": "yes"}, updated.Metadata)
	assert.Equal(t, "hello", updated.Text())
	assert.Equal(t, msg.CreatedAt, updated.CreatedAt)

	_, err = svc.ModifyThread(ctx, "thread_missing", domain.ModifyThreadRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.ModifyMessage(ctx, thread.ID, "msg_missing", domain.ModifyMessageRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	other := createThread(t, svc, "elsewhere")
	_, err = svc.ModifyMessage(ctx, other.ID, msg.ID, domain.ModifyMessageRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteThread(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(callTools(domain.FunctionCall{Name: "get_weather", Arguments: `{"city":"Oslo"}`}))
	svc, _ := newTestService(t, backend)
	assistant := createAssistant(t, svc, weatherTool)
	thread := createThread(t, svc, "weather?")

	run, err := svc.CreateRun(ctx, thread.ID, domain.CreateRunRequest{AssistantID: assistant.ID})
	require.NoError(t, err)
	waitForStatus(t, svc, run, domain.RunStatusRequiresAction)

	_, err = svc.DeleteThread(ctx, thread.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CancelRun(ctx, thread.ID, run.ID)
	require.NoError(t, err)

	status, err := svc.DeleteThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, &domain.DeletionStatus{ID: thread.ID, Object: "thread.deleted", Deleted: true}, status)

	_, err = svc.GetThread(ctx, thread.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.RetrieveRun(ctx, thread.ID, run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.DeleteThread(ctx, thread.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAssistants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newScriptedBackend())

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, createAssistant(t, svc).ID)
	}

	page, err := svc.ListAssistants(ctx, domain.ListOptions{Order: domain.ListOrderAsc, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, ids[0], page.Data[0].ID)
	assert.Equal(t, ids[1], page.Data[1].ID)
	assert.True(t, page.HasMore)

	rest, err := svc.ListAssistants(ctx, domain.ListOptions{Order: domain.ListOrderAsc, After: page.LastID})
	require.NoError(t, err)
	require.Len(t, rest.Data, 1)
	assert.Equal(t, ids[2], rest.Data[0].ID)
	assert.False(t, rest.HasMore)
	assert.Equal(t, "be brief", rest.Data[0].Instructions)

	desc, err := svc.ListAssistants(ctx, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, desc.Data, 3)
	assert.Equal(t, ids[2], desc.FirstID)

	_, err = svc.ListAssistants(ctx, domain.ListOptions{Before: "asst_missing"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGroupRoundsKeepsStepOrder(t *testing.T) {
	out := "1"
	calls := []domain.ToolCall{
		{ID: "a", StepID: "s1", Function: domain.FunctionCall{Output: &out}},
		{ID: "b", StepID: "s1", Function: domain.FunctionCall{Output: &out}},
		{ID: "c", StepID: "s2", Function: domain.FunctionCall{Output: &out}},
	}
	rounds := groupRounds(calls)
	require.Len(t, rounds, 2)
	assert.Len(t, rounds[0].Calls, 2)
	assert.Equal(t, "c", rounds[1].Calls[0].ID)
	assert.Nil(t, groupRounds(nil))
}

func TestKeyedMutexHandoff(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("r1")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("r1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	done := make(chan struct{})
	go func() {
		unlock()
		unlock()
		close(done)
	}()
	<-done
	<-acquired

	// Another key is independent.
	other := k.Lock("r2")
	other()

	require.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.locks) == 0
	}, time.Second, time.Millisecond)
}
