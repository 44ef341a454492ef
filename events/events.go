// events/events.go
package events

import (
	"encoding/json"
	"fmt"

	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/types"
)

// Channel is the name UI subscribers receive turn updates under
const Channel = "chat_completion_update"

// Event kinds
const (
	TypeStart    = "Start"
	TypeEnd      = "End"
	TypeMessage  = "Message"
	TypeToolCall = "ToolCall"
	TypeToolDone = "ToolDone"
	TypeError    = "Error"
)

// Event is one update for the presentation layer. Which fields are
// meaningful depends on Type.
type Event struct {
	Type       string
	ID         uint64
	Role       string
	Content    []types.Content
	ToolName   string
	ToolCallID string
	ToolArgs   string
	ToolResult string
	Message    string
}

// StartEvent marks the beginning of a turn
func StartEvent() Event { return Event{Type: TypeStart} }

// EndEvent marks the end of a turn, however it ended
func EndEvent() Event { return Event{Type: TypeEnd} }

// ErrorEvent reports a failed turn
func ErrorEvent(err error) Event { return Event{Type: TypeError, Message: err.Error()} }

// MarshalJSON writes the tagged shape for the event's kind
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeStart, TypeEnd:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{e.Type})
	case TypeMessage:
		content := e.Content
		if content == nil {
			content = []types.Content{}
		}
		return json.Marshal(struct {
			Type    string          `json:"type"`
			ID      uint64          `json:"id"`
			Role    string          `json:"role"`
			Content []types.Content `json:"content"`
		}{e.Type, e.ID, e.Role, content})
	case TypeToolCall:
		return json.Marshal(struct {
			Type       string `json:"type"`
			ID         uint64 `json:"id"`
			ToolName   string `json:"tool_name"`
			ToolCallID string `json:"tool_call_id"`
			ToolArgs   string `json:"tool_args"`
		}{e.Type, e.ID, e.ToolName, e.ToolCallID, e.ToolArgs})
	case TypeToolDone:
		return json.Marshal(struct {
			Type       string `json:"type"`
			ID         uint64 `json:"id"`
			ToolCallID string `json:"tool_call_id"`
			ToolResult string `json:"tool_result"`
		}{e.Type, e.ID, e.ToolCallID, e.ToolResult})
	case TypeError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}
}

// UI renders interactions as display events and lifts user-submitted
// content into user messages.
type UI struct{}

var (
	_ history.Target[Event]           = UI{}
	_ history.Source[[]types.Content] = UI{}
)

// Convert implements history.Target
func (UI) Convert(i types.Interaction) []Event {
	switch v := i.(type) {
	case *types.LlmResponse:
		if len(v.ToolCalls) == 0 {
			return []Event{{Type: TypeMessage, ID: v.ID, Role: "assistant", Content: v.Content}}
		}
		out := make([]Event, 0, len(v.ToolCalls))
		for _, tc := range v.ToolCalls {
			out = append(out, Event{
				Type:       TypeToolCall,
				ID:         v.ID,
				ToolName:   tc.Function.Name,
				ToolCallID: tc.ID,
				ToolArgs:   tc.Function.Arguments,
			})
		}
		return out
	case *types.ToolResult:
		out := []Event{{Type: TypeToolDone, ID: v.ID, ToolCallID: v.ToolCallID, ToolResult: v.Response}}
		if len(v.ForUser) > 0 {
			out = append(out, Event{Type: TypeMessage, ID: v.ID, Role: "assistant", Content: v.ForUser})
		}
		return out
	case *types.UserMessage:
		return []Event{{Type: TypeMessage, ID: v.ID, Role: "user", Content: v.Content}}
	default:
		return nil
	}
}

// Sends implements history.Source
func (UI) Sends(content []types.Content) types.Interaction {
	return types.NewUserMessage(content)
}
