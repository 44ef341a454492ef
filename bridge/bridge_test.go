package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/events"
	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/llm"
	"github.com/sammcj/deskchat/tools"
	"github.com/sammcj/deskchat/tools/leakdetector"
	"github.com/sammcj/deskchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = log.New(io.Discard, "", 0)

// scriptedModel answers each completion call with the next step of a script
type scriptedModel struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	steps    []func(req llm.CompletionRequest) (*llm.IncomingMessage, error)
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.IncomingMessage, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if n >= len(m.steps) {
		return nil, errors.New("script exhausted")
	}
	return m.steps[n](req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func say(text string) func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
	return func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
		return &llm.IncomingMessage{Role: "assistant", Content: llm.IncomingContent{types.TextContent(text)}}, nil
	}
}

func callTools(calls ...types.ToolCall) func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
	return func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
		return &llm.IncomingMessage{Role: "assistant", ToolCalls: calls}, nil
	}
}

type toolArgs struct {
	Key string `json:"key"`
}

func testTool(name string, fn func(ctx context.Context, args toolArgs) (any, error)) tools.Tool {
	return tools.Func(mcp.Tool{
		Name:        name,
		Description: name + " tool",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{
			"key": map[string]interface{}{"type": "string"},
		}},
	}, fn)
}

func echoTool(name string) tools.Tool {
	return testTool(name, func(ctx context.Context, args toolArgs) (any, error) {
		return name + ":" + args.Key, nil
	})
}

type harness struct {
	model    *scriptedModel
	registry *tools.Registry
	recorder *events.Recorder
	tracker  *leakdetector.Detector
	conv     *Conversation
}

func newHarness(t *testing.T, settings config.StaticSettings, steps []func(llm.CompletionRequest) (*llm.IncomingMessage, error), ts ...tools.Tool) *harness {
	t.Helper()
	h := &harness{
		model:    &scriptedModel{steps: steps},
		registry: tools.NewRegistry(quiet),
		recorder: &events.Recorder{},
		tracker:  leakdetector.New(time.Hour, time.Hour, quiet),
	}
	t.Cleanup(func() { h.tracker.Close() })
	require.NoError(t, h.registry.Register(ts...))

	proc := NewProcessor(h.model, h.registry, settings, quiet,
		WithRetry(RetryPolicy{Attempts: 3, Backoff: time.Millisecond}),
		WithTracker(h.tracker))
	h.conv = NewConversation(proc, h.recorder, quiet)
	return h
}

func userText(text string) []types.Content {
	return []types.Content{types.TextContent(text)}
}

func TestChatPlainAnswer(t *testing.T) {
	h := newHarness(t, config.StaticSettings{SystemPrompt: "be brief"}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		say("Hello!"),
	})

	require.NoError(t, h.conv.Chat(context.Background(), userText("hi")))

	items := h.conv.History().Items()
	require.Len(t, items, 2)
	assert.IsType(t, &types.UserMessage{}, items[0])
	resp := items[1].(*types.LlmResponse)
	assert.Equal(t, "Hello!", types.PlainText(resp.Content))

	req := h.model.request(0)
	assert.Equal(t, "be brief", req.SystemPrompt)
	assert.Nil(t, req.Tools, "an empty catalog is omitted")
	assert.Equal(t, []string{events.TypeStart, events.TypeMessage, events.TypeMessage, events.TypeEnd}, h.recorder.Types())
	assert.False(t, h.conv.Busy())
}

func TestChatFanOutWithFailingTool(t *testing.T) {
	release := make(chan struct{})
	slowA := testTool("a", func(ctx context.Context, args toolArgs) (any, error) {
		<-release
		return "a:" + args.Key, nil
	})
	failB := testTool("b", func(ctx context.Context, args toolArgs) (any, error) {
		return nil, errors.New("b exploded")
	})
	fastC := testTool("c", func(ctx context.Context, args toolArgs) (any, error) {
		close(release)
		return "c:" + args.Key, nil
	})

	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(
			types.NewToolCall("call_a", "a", `{"key":"1"}`),
			types.NewToolCall("call_b", "b", `{"key":"2"}`),
			types.NewToolCall("call_c", "c", `{"key":"3"}`),
		),
		say("done"),
	}, slowA, failB, fastC)

	require.NoError(t, h.conv.Chat(context.Background(), userText("go")))

	snap := h.conv.History()
	require.NoError(t, snap.Validate(false))
	items := snap.Items()
	require.Len(t, items, 6)

	var got []string
	for _, it := range items[2:5] {
		r := it.(*types.ToolResult)
		got = append(got, r.ToolCallID+"="+r.Response)
	}
	assert.Equal(t, []string{
		`call_a="a:1"`,
		`call_b=tool error in b: execution failed: b exploded`,
		`call_c="c:3"`,
	}, got, "results follow declaration order whatever the completion order")

	second := h.model.request(1)
	var roles []string
	for _, m := range second.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "tool", "tool"}, roles)
	assert.Equal(t, "call_a", second.Messages[2].ToolCallID)
	assert.Equal(t, "call_c", second.Messages[4].ToolCallID)
	require.Len(t, second.Tools, 3)
	assert.Equal(t, "a", second.Tools[0].Function.Name)

	ts := h.recorder.Types()
	assert.Equal(t, events.TypeStart, ts[0])
	assert.Equal(t, events.TypeEnd, ts[len(ts)-1])
	assert.Equal(t, 3, countType(ts, events.TypeToolCall))
	assert.Equal(t, 3, countType(ts, events.TypeToolDone))
	assert.NotContains(t, ts, events.TypeError)
}

func TestChatReusedToolCallIDsAcrossTurns(t *testing.T) {
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(types.NewToolCall("call_0", "a", `{"key":"1"}`)),
		say("first"),
		callTools(types.NewToolCall("call_0", "a", `{"key":"2"}`)),
		say("second"),
	}, echoTool("a"))

	require.NoError(t, h.conv.Chat(context.Background(), userText("one")))
	require.NoError(t, h.conv.Chat(context.Background(), userText("two")))

	snap := h.conv.History()
	require.NoError(t, snap.Validate(false))
	items := snap.Items()
	require.Len(t, items, 8)
	assert.Equal(t, `"a:1"`, items[2].(*types.ToolResult).Response)
	assert.Equal(t, `"a:2"`, items[6].(*types.ToolResult).Response)

	last := h.model.request(3)
	var roles []string
	for _, m := range last.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant", "user", "assistant", "tool"}, roles)
	assert.Equal(t, "call_0", last.Messages[6].ToolCallID)
	assert.Equal(t, 2, countType(h.recorder.Types(), events.TypeToolDone))
}

func countType(ts []string, want string) int {
	n := 0
	for _, t := range ts {
		if t == want {
			n++
		}
	}
	return n
}

func TestChatCancelWithPendingTools(t *testing.T) {
	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	blocking := func(name string) tools.Tool {
		return testTool(name, func(ctx context.Context, args toolArgs) (any, error) {
			started.Done()
			<-block
			return "late", nil
		})
	}

	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(
			types.NewToolCall("call_1", "quick", ""),
			types.NewToolCall("call_2", "slow1", ""),
			types.NewToolCall("call_3", "slow2", ""),
		),
	}, echoTool("quick"), blocking("slow1"), blocking("slow2"))

	done := make(chan error, 1)
	go func() { done <- h.conv.Chat(context.Background(), userText("go")) }()

	started.Wait()
	require.Eventually(t, func() bool {
		return countType(h.recorder.Types(), events.TypeToolDone) == 1
	}, time.Second, time.Millisecond)

	h.conv.Cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean outcome")
	case <-time.After(2 * time.Second):
		t.Fatal("Chat did not return after Cancel")
	}

	snap := h.conv.History()
	require.NoError(t, snap.Validate(false))
	items := snap.Items()
	require.Len(t, items, 3)
	resp := items[1].(*types.LlmResponse)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "call_1", items[2].(*types.ToolResult).ToolCallID)

	ts := h.recorder.Types()
	assert.Equal(t, events.TypeEnd, ts[len(ts)-1])
	assert.NotContains(t, ts, events.TypeError)

	close(block)
	require.Eventually(t, func() bool { return h.tracker.Pending() == 0 }, time.Second, time.Millisecond)
	// Late results were dropped, not appended
	assert.Equal(t, 3, h.conv.History().Len())
	require.NoError(t, h.conv.History().Validate(false))
	assert.False(t, h.conv.Busy())
}

func TestChatConflict(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{})
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(types.NewToolCall("c1", "wait", "")),
		say("finished"),
	}, testTool("wait", func(ctx context.Context, args toolArgs) (any, error) {
		close(entered)
		<-block
		return "ok", nil
	}))

	done := make(chan error, 1)
	go func() { done <- h.conv.Chat(context.Background(), userText("first")) }()
	<-entered

	before := h.conv.History().Len()
	err := h.conv.Chat(context.Background(), userText("second"))
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.Equal(t, before, h.conv.History().Len(), "a refused turn mutates nothing")

	close(block)
	require.NoError(t, <-done)
	assert.Equal(t, 4, h.conv.History().Len())
	assert.False(t, h.conv.Busy())
}

func TestChatRejectsUnusableContent(t *testing.T) {
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		say("fine"),
	})

	err := h.conv.Chat(context.Background(), []types.Content{types.TextContent("look"), {Type: types.ContentImageURL}})
	var contentErr *types.ContentError
	require.ErrorAs(t, err, &contentErr)
	assert.Equal(t, 1, contentErr.Index)
	assert.ErrorIs(t, err, types.ErrInvalidContent)

	assert.Zero(t, h.conv.History().Len(), "a refused turn mutates nothing")
	assert.Empty(t, h.recorder.Events())
	assert.Zero(t, h.model.calls())
	assert.False(t, h.conv.Busy())

	require.NoError(t, h.conv.Chat(context.Background(), userText("plain")))
	assert.Equal(t, 2, h.conv.History().Len())
}

func TestChatEmptyReplyIsReported(t *testing.T) {
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
			return &llm.IncomingMessage{Role: "assistant"}, nil
		},
	})

	require.NoError(t, h.conv.Chat(context.Background(), userText("hello?")))

	assert.Equal(t, 1, h.conv.History().Len(), "nothing empty is pushed")
	assert.Equal(t, []string{events.TypeStart, events.TypeMessage, events.TypeError, events.TypeEnd}, h.recorder.Types())
	evs := h.recorder.Events()
	assert.Contains(t, evs[2].Message, "empty response")
	assert.NoError(t, h.conv.History().Validate(false))
}

func TestDeleteCancelsRunningTurn(t *testing.T) {
	entered := make(chan struct{})
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(types.NewToolCall("c1", "hang", "")),
	}, testTool("hang", func(ctx context.Context, args toolArgs) (any, error) {
		close(entered)
		<-hang
		return nil, nil
	}))

	done := make(chan error, 1)
	go func() { done <- h.conv.Chat(context.Background(), userText("question")) }()
	<-entered

	user := h.conv.History().Items()[0]
	found, err := h.conv.DeleteMessage(context.Background(), user.InteractionID())
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, <-done)

	// The cancelled turn stripped its unanswered call, leaving nothing
	assert.Zero(t, h.conv.History().Len())
	assert.False(t, h.conv.Busy())
}

func TestDeleteToolInteraction(t *testing.T) {
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(types.NewToolCall("c1", "x", ""), types.NewToolCall("c2", "y", "")),
		say("both done"),
	}, echoTool("x"), echoTool("y"))
	require.NoError(t, h.conv.Chat(context.Background(), userText("go")))

	found, err := h.conv.DeleteToolInteraction(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, found)

	snap := h.conv.History()
	require.NoError(t, snap.Validate(false))
	resp := snap.Items()[1].(*types.LlmResponse)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "c2", resp.ToolCalls[0].ID)

	found, err = h.conv.DeleteToolInteraction(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMaxSteps(t *testing.T) {
	var steps []func(llm.CompletionRequest) (*llm.IncomingMessage, error)
	for i := 0; i < 10; i++ {
		steps = append(steps, callTools(types.NewToolCall(fmt.Sprintf("call_%d", i), "x", "")))
	}
	h := newHarness(t, config.StaticSettings{MaxSteps: 3}, steps, echoTool("x"))

	err := h.conv.Chat(context.Background(), userText("loop forever"))
	var llmErr *types.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, 3, h.model.calls())
	require.NoError(t, h.conv.History().Validate(false))

	ts := h.recorder.Types()
	require.GreaterOrEqual(t, len(ts), 2)
	assert.Equal(t, []string{events.TypeError, events.TypeEnd}, ts[len(ts)-2:])
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryOnTimeout(t *testing.T) {
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
			return nil, &types.LLMError{Operation: "complete", Message: "failed to send request", Err: timeoutErr{}}
		},
		say("second time lucky"),
	})

	require.NoError(t, h.conv.Chat(context.Background(), userText("hi")))
	assert.Equal(t, 2, h.model.calls())
}

func TestTransportFailureIsFatal(t *testing.T) {
	h := newHarness(t, config.StaticSettings{}, []func(llm.CompletionRequest) (*llm.IncomingMessage, error){
		callTools(types.NewToolCall("c1", "x", "")),
		func(llm.CompletionRequest) (*llm.IncomingMessage, error) {
			return nil, &types.LLMError{Operation: "complete", Message: "failed to send request", Err: errors.New("connection refused")}
		},
	}, echoTool("x"))

	err := h.conv.Chat(context.Background(), userText("hi"))
	assert.ErrorIs(t, err, types.ErrLLMResponse)
	assert.Equal(t, 2, h.model.calls(), "non-retryable errors are not retried")

	// Mutations made earlier in the turn remain
	assert.Equal(t, 3, h.conv.History().Len())
	recorded := h.recorder.Events()
	require.GreaterOrEqual(t, len(recorded), 2)
	assert.Equal(t, events.TypeError, recorded[len(recorded)-2].Type)
	assert.Contains(t, recorded[len(recorded)-2].Message, "connection refused")
}

func TestNotJSONEndpointBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	settings := config.StaticSettings{Endpoint: srv.URL, Model: "m", APIKey: "k"}
	client := llm.New(settings, quiet)
	registry := tools.NewRegistry(quiet)
	rec := &events.Recorder{}
	conv := NewConversation(NewProcessor(client, registry, settings, quiet), rec, quiet)

	require.NoError(t, conv.Chat(context.Background(), userText("hello")))

	items := conv.History().Items()
	require.Len(t, items, 2)
	resp := items[1].(*types.LlmResponse)
	assert.Equal(t, "not json", types.PlainText(resp.Content))
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, []string{events.TypeStart, events.TypeMessage, events.TypeMessage, events.TypeEnd}, rec.Types())
}

type memorySaver struct {
	mu    sync.Mutex
	saved []*history.History
}

func (m *memorySaver) Save(ctx context.Context, h *history.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, h)
	return nil
}

func TestConversationPersistsAndReplays(t *testing.T) {
	saver := &memorySaver{}
	model := &scriptedModel{steps: []func(llm.CompletionRequest) (*llm.IncomingMessage, error){say("answer")}}
	rec := &events.Recorder{}
	conv := NewConversation(NewProcessor(model, tools.NewRegistry(quiet), config.StaticSettings{}, quiet), rec, quiet, WithSaver(saver))

	require.NoError(t, conv.Chat(context.Background(), userText("q")))
	require.Len(t, saver.saved, 1)
	assert.Equal(t, 2, saver.saved[0].Len())

	rec2 := &events.Recorder{}
	conv.publisher = events.NewPublisher(rec2, quiet)
	conv.ReplayHistory()
	assert.Equal(t, []string{events.TypeStart, events.TypeMessage, events.TypeMessage, events.TypeEnd}, rec2.Types())

	require.NoError(t, conv.ClearHistory(context.Background()))
	assert.Zero(t, conv.History().Len())
	assert.Len(t, saver.saved, 2)

	restored := history.New(types.NewUserMessage(userText("old")))
	require.NoError(t, conv.Restore(restored))
	assert.Equal(t, 1, conv.History().Len())
}
