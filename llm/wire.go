// llm/wire.go
package llm

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/types"
)

// Message is one entry of the completion request's messages array.
// Text is used for string content (system prompt, tool responses), Parts for
// content part arrays.
type Message struct {
	Role       string
	Text       string
	Parts      []types.Content
	ToolCalls  []types.ToolCall
	ToolCallID string
}

// MarshalJSON writes the endpoint's role/content/tool_calls/tool_call_id shape
func (m Message) MarshalJSON() ([]byte, error) {
	out := struct {
		Role       string           `json:"role"`
		Content    any              `json:"content,omitempty"`
		ToolCalls  []types.ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string           `json:"tool_call_id,omitempty"`
	}{Role: m.Role, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID}

	switch {
	case len(m.ToolCalls) > 0:
	case m.Parts != nil:
		out.Content = m.Parts
	default:
		out.Content = m.Text
	}
	return json.Marshal(out)
}

// IncomingMessage is a message as returned in a completion choice
type IncomingMessage struct {
	Role      string           `json:"role"`
	Content   IncomingContent  `json:"content"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
}

// IncomingContent accepts the content field as a string, a parts array or
// null. Parts of an unknown kind, or missing their payload, are dropped.
type IncomingContent []types.Content

// UnmarshalJSON implements json.Unmarshaler
func (c *IncomingContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		if text == "" {
			*c = nil
			return nil
		}
		*c = IncomingContent{types.TextContent(text)}
		return nil
	}

	var parts []types.Content
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	// parts that could not be sent back are dropped
	*c = slices.DeleteFunc(parts, func(p types.Content) bool { return p.Validate() != nil })
	if len(*c) == 0 {
		*c = nil
	}
	return nil
}

// Wire renders interactions into completion request messages and lifts
// completion messages back into interactions.
type Wire struct{}

var (
	_ history.Target[Message]         = Wire{}
	_ history.Source[IncomingMessage] = Wire{}
)

// Convert implements history.Target
func (Wire) Convert(i types.Interaction) []Message {
	switch v := i.(type) {
	case *types.LlmResponse:
		if len(v.ToolCalls) > 0 {
			return []Message{{Role: "assistant", ToolCalls: v.ToolCalls}}
		}
		return []Message{{Role: "assistant", Parts: nonNil(v.Content)}}
	case *types.ToolResult:
		out := []Message{{Role: "tool", Text: v.Response, ToolCallID: v.ToolCallID}}
		if len(v.ForLLM) > 0 {
			out = append(out, Message{Role: "user", Parts: v.ForLLM})
		}
		return out
	case *types.UserMessage:
		return []Message{{Role: "user", Parts: nonNil(v.Content)}}
	default:
		return nil
	}
}

// Sends implements history.Source
func (Wire) Sends(m IncomingMessage) types.Interaction {
	return types.NewLlmResponse([]types.Content(m.Content), m.ToolCalls)
}

// RenderHistory renders h for the completion endpoint
func RenderHistory(h *history.History) []Message {
	return history.Render[Message](Wire{}, h)
}

func nonNil(parts []types.Content) []types.Content {
	if parts == nil {
		return []types.Content{}
	}
	return parts
}
