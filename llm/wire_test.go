package llm

import (
	"encoding/json"
	"testing"

	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderJSON(t *testing.T, h *history.History) string {
	t.Helper()
	data, err := json.Marshal(RenderHistory(h))
	require.NoError(t, err)
	return string(data)
}

func TestWireRender(t *testing.T) {
	resp := types.NewLlmResponse([]types.Content{types.TextContent("ignored when calling")},
		[]types.ToolCall{types.NewToolCall("c1", "load_file", `{"filename":"a.txt"}`)})
	h := history.New(
		types.NewUserMessage([]types.Content{types.TextContent("read a.txt")}),
		resp,
		types.NewToolResult("c1", `"file_loaded"`, []types.Content{types.TextContent("file body")}, []types.Content{types.TextContent("for the user only")}),
		types.NewLlmResponse([]types.Content{types.TextContent("It says hello")}, nil),
	)

	assert.JSONEq(t, `[
		{"role":"user","content":[{"type":"text","text":"read a.txt"}]},
		{"role":"assistant","tool_calls":[{"id":"c1","type":"function","function":{"name":"load_file","arguments":"{\"filename\":\"a.txt\"}"}}]},
		{"role":"tool","content":"\"file_loaded\"","tool_call_id":"c1"},
		{"role":"user","content":[{"type":"text","text":"file body"}]},
		{"role":"assistant","content":[{"type":"text","text":"It says hello"}]}
	]`, renderJSON(t, h))
}

func TestWireRenderToolResultWithoutSideChannel(t *testing.T) {
	h := history.New(
		types.NewLlmResponse(nil, []types.ToolCall{types.NewToolCall("c1", "roll_dice", "")}),
		types.NewToolResult("c1", "4", nil, nil),
	)
	msgs := RenderHistory(h)
	require.Len(t, msgs, 2)
	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "4", msgs[1].Text)
}

func TestWireSendsPolymorphicContent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []types.Content
	}{
		{"string", `{"role":"assistant","content":"hello"}`, []types.Content{types.TextContent("hello")}},
		{"parts", `{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"u"}}]}`,
			[]types.Content{types.TextContent("a"), types.ImageContent("u")}},
		{"null", `{"role":"assistant","content":null,"tool_calls":[{"id":"x","type":"function","function":{"name":"ls","arguments":"{}"}}]}`, nil},
		{"absent", `{"role":"assistant","tool_calls":[{"id":"x","type":"function","function":{"name":"ls","arguments":"{}"}}]}`, nil},
		{"empty string", `{"role":"assistant","content":"","tool_calls":[{"id":"x","type":"function","function":{"name":"ls","arguments":"{}"}}]}`, nil},
		{"unusable parts dropped", `{"role":"assistant","content":[{"type":"bogus"},{"type":"image_url"},{"type":"text","text":"kept"}]}`,
			[]types.Content{types.TextContent("kept")}},
		{"only unusable parts", `{"role":"assistant","content":[{"type":"file","file":{"filename":"x"}}]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg IncomingMessage
			require.NoError(t, json.Unmarshal([]byte(tt.body), &msg))

			resp, ok := Wire{}.Sends(msg).(*types.LlmResponse)
			require.True(t, ok)
			assert.Equal(t, tt.want, resp.Content)
			assert.NotZero(t, resp.ID)
		})
	}
}

// Every tool message must follow an assistant message that declared its call.
func TestWireRenderNeverEmitsOrphanToolMessages(t *testing.T) {
	resp := types.NewLlmResponse(nil, []types.ToolCall{
		types.NewToolCall("a", "ls", "{}"),
		types.NewToolCall("b", "ls", "{}"),
		types.NewToolCall("c", "ls", "{}"),
	})
	h := history.New(
		types.NewUserMessage([]types.Content{types.TextContent("go")}),
		resp,
		types.NewToolResult("a", "1", nil, nil),
		types.NewToolResult("b", "2", []types.Content{types.TextContent("extra")}, nil),
	)
	h.CleanUnfinishedToolCalls()
	h.DeleteByToolID("a")

	declared := map[string]bool{}
	for _, m := range RenderHistory(h) {
		for _, tc := range m.ToolCalls {
			declared[tc.ID] = true
		}
		if m.Role == "tool" {
			assert.True(t, declared[m.ToolCallID], "tool message %s without preceding call", m.ToolCallID)
		}
	}
}
