package events

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIConvert(t *testing.T) {
	resp := types.NewLlmResponse(nil, []types.ToolCall{
		types.NewToolCall("c1", "ls", `{"relative_path":"."}`),
		types.NewToolCall("c2", "make_file", `{"content":"x"}`),
	})
	made := types.NewToolResult("c2", `"Created file"`, nil, []types.Content{types.FileContent("file.txt", "data:text/plain;base64,eA==")})

	got := UI{}.Convert(resp)
	require.Len(t, got, 2)
	assert.Equal(t, Event{Type: TypeToolCall, ID: resp.ID, ToolName: "ls", ToolCallID: "c1", ToolArgs: `{"relative_path":"."}`}, got[0])
	assert.Equal(t, "c2", got[1].ToolCallID)

	got = UI{}.Convert(made)
	require.Len(t, got, 2)
	assert.Equal(t, TypeToolDone, got[0].Type)
	assert.Equal(t, `"Created file"`, got[0].ToolResult)
	assert.Equal(t, Event{Type: TypeMessage, ID: made.ID, Role: "assistant", Content: made.ForUser}, got[1])

	plain := types.NewToolResult("c1", `["a"]`, []types.Content{types.TextContent("llm only")}, nil)
	assert.Len(t, UI{}.Convert(plain), 1, "for_llm never reaches the UI")

	user := UI{}.Sends([]types.Content{types.TextContent("hi")})
	um, ok := user.(*types.UserMessage)
	require.True(t, ok)
	assert.Equal(t, []Event{{Type: TypeMessage, ID: um.ID, Role: "user", Content: um.Content}}, UI{}.Convert(user))
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{StartEvent(), `{"type":"Start"}`},
		{EndEvent(), `{"type":"End"}`},
		{Event{Type: TypeMessage, ID: 3, Role: "assistant"}, `{"type":"Message","id":3,"role":"assistant","content":[]}`},
		{Event{Type: TypeToolCall, ID: 4, ToolName: "ls", ToolCallID: "c", ToolArgs: "{}"}, `{"type":"ToolCall","id":4,"tool_name":"ls","tool_call_id":"c","tool_args":"{}"}`},
		{Event{Type: TypeToolDone, ID: 5, ToolCallID: "c", ToolResult: "1"}, `{"type":"ToolDone","id":5,"tool_call_id":"c","tool_result":"1"}`},
		{ErrorEvent(errors.New("boom")), `{"type":"Error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.event.Type, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestPublisherIgnoresDeliveryFailures(t *testing.T) {
	var calls int
	failing := EmitterFunc(func(Event) error {
		calls++
		return errors.New("window closed")
	})
	rec := &Recorder{}
	p := NewPublisher(Multi(failing, rec), log.New(io.Discard, "", 0))

	assert.NotPanics(t, func() {
		p.Start()
		p.Interaction(types.NewUserMessage([]types.Content{types.TextContent("hi")}))
		p.End()
	})
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{TypeStart, TypeMessage, TypeEnd}, rec.Types())
}

func TestPublisherReplay(t *testing.T) {
	h := history.New(
		types.NewUserMessage([]types.Content{types.TextContent("roll")}),
		types.NewLlmResponse(nil, []types.ToolCall{types.NewToolCall("d", "roll_dice", "")}),
		types.NewToolResult("d", "6", nil, nil),
		types.NewLlmResponse([]types.Content{types.TextContent("You rolled 6")}, nil),
	)
	rec := &Recorder{}
	NewPublisher(rec, log.New(io.Discard, "", 0)).Replay(h)

	assert.Equal(t, []string{TypeStart, TypeMessage, TypeToolCall, TypeToolDone, TypeMessage, TypeEnd}, rec.Types())
}
