// types/types.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Content part kinds
const (
	ContentText     = "text"
	ContentImageURL = "image_url"
	ContentFile     = "file"
)

// ImageURL references an image by remote URL or data URL
type ImageURL struct {
	URL string `json:"url" msgpack:"url"`
}

// FileData carries an inline document as a data URL
type FileData struct {
	Filename string `json:"filename" msgpack:"filename"`
	FileData string `json:"file_data" msgpack:"file_data"`
}

// Content is one part of a message: text, an image reference or a file attachment.
// Values are treated as immutable once constructed.
type Content struct {
	Type     string    `json:"type" msgpack:"type"`
	Text     string    `json:"text,omitempty" msgpack:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty" msgpack:"image_url,omitempty"`
	File     *FileData `json:"file,omitempty" msgpack:"file,omitempty"`
}

// TextContent creates a text part
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ImageContent creates an image part
func ImageContent(url string) Content {
	return Content{Type: ContentImageURL, ImageURL: &ImageURL{URL: url}}
}

// FileContent creates a file part
func FileContent(filename, dataURL string) Content {
	return Content{Type: ContentFile, File: &FileData{Filename: filename, FileData: dataURL}}
}

// Validate reports whether the part carries the field its kind requires
func (c Content) Validate() error {
	switch c.Type {
	case ContentText:
		return nil
	case ContentImageURL:
		if c.ImageURL == nil || c.ImageURL.URL == "" {
			return fmt.Errorf("image_url content without url")
		}
		return nil
	case ContentFile:
		if c.File == nil || c.File.FileData == "" {
			return fmt.Errorf("file content without data")
		}
		return nil
	default:
		return fmt.Errorf("unknown content type: %q", c.Type)
	}
}

// ValidateContent checks every part of a message
func ValidateContent(parts []Content) error {
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			return &ContentError{Index: i, Message: err.Error()}
		}
	}
	return nil
}

// MarshalJSON writes exactly the fields that belong to the part's kind
func (c Content) MarshalJSON() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case ContentText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{c.Type, c.Text})
	case ContentImageURL:
		return json.Marshal(struct {
			Type     string    `json:"type"`
			ImageURL *ImageURL `json:"image_url"`
		}{c.Type, c.ImageURL})
	default:
		return json.Marshal(struct {
			Type string    `json:"type"`
			File *FileData `json:"file"`
		}{c.Type, c.File})
	}
}

// PlainText concatenates the text parts, ignoring images and files
func PlainText(parts []Content) string {
	var buf bytes.Buffer
	for _, p := range parts {
		if p.Type != ContentText {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p.Text)
	}
	return buf.String()
}

// FunctionCall names the function a tool call invokes
type FunctionCall struct {
	Name      string `json:"name" msgpack:"name"`
	Arguments string `json:"arguments" msgpack:"arguments"`
}

// UnmarshalJSON accepts arguments either as a JSON-encoded string or as a bare object
func (f *FunctionCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	f.Arguments = ""

	args := bytes.TrimSpace(raw.Arguments)
	switch {
	case len(args) == 0 || bytes.Equal(args, []byte("null")):
	case args[0] == '"':
		if err := json.Unmarshal(args, &f.Arguments); err != nil {
			return err
		}
	default:
		f.Arguments = string(args)
	}
	return nil
}

// ToolCall represents a tool invocation request from the LLM.
// ID is model supplied and echoed back verbatim.
type ToolCall struct {
	ID       string       `json:"id" msgpack:"id"`
	Type     string       `json:"type" msgpack:"type"`
	Function FunctionCall `json:"function" msgpack:"function"`
}

// NewToolCall creates a function tool call
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

var lastInteractionID atomic.Uint64

// NextInteractionID returns a process-unique, increasing identifier
func NextInteractionID() uint64 {
	return lastInteractionID.Add(1)
}

// Interaction is one entry of the conversation history. The set of
// implementations is closed: *LlmResponse, *ToolResult and *UserMessage.
type Interaction interface {
	InteractionID() uint64
	interaction()
}

// LlmResponse is a model turn
type LlmResponse struct {
	ID        uint64
	Content   []Content
	ToolCalls []ToolCall
}

// NewLlmResponse creates a model turn with a fresh id
func NewLlmResponse(content []Content, toolCalls []ToolCall) *LlmResponse {
	return &LlmResponse{ID: NextInteractionID(), Content: content, ToolCalls: toolCalls}
}

func (r *LlmResponse) InteractionID() uint64 { return r.ID }
func (*LlmResponse) interaction()            {}

// IsEmpty reports whether the response has neither content nor tool calls
func (r *LlmResponse) IsEmpty() bool {
	return len(r.Content) == 0 && len(r.ToolCalls) == 0
}

// HasToolCall reports whether the response carries a call with the given id
func (r *LlmResponse) HasToolCall(toolCallID string) bool {
	for _, tc := range r.ToolCalls {
		if tc.ID == toolCallID {
			return true
		}
	}
	return false
}

// ToolResult is the outcome of one tool call
type ToolResult struct {
	ID         uint64
	ToolCallID string
	Response   string
	ForLLM     []Content
	ForUser    []Content
}

// NewToolResult creates a tool result with a fresh id
func NewToolResult(toolCallID, response string, forLLM, forUser []Content) *ToolResult {
	return &ToolResult{
		ID:         NextInteractionID(),
		ToolCallID: toolCallID,
		Response:   response,
		ForLLM:     forLLM,
		ForUser:    forUser,
	}
}

func (r *ToolResult) InteractionID() uint64 { return r.ID }
func (*ToolResult) interaction()            {}

// UserMessage is a user-authored turn
type UserMessage struct {
	ID      uint64
	Content []Content
}

// NewUserMessage creates a user turn with a fresh id
func NewUserMessage(content []Content) *UserMessage {
	return &UserMessage{ID: NextInteractionID(), Content: content}
}

func (m *UserMessage) InteractionID() uint64 { return m.ID }
func (*UserMessage) interaction()            {}

// CloneInteraction returns a copy that shares no mutable state with the original.
// Content parts are immutable and shared.
func CloneInteraction(i Interaction) Interaction {
	switch v := i.(type) {
	case *LlmResponse:
		c := *v
		c.Content = append([]Content(nil), v.Content...)
		c.ToolCalls = append([]ToolCall(nil), v.ToolCalls...)
		return &c
	case *ToolResult:
		c := *v
		c.ForLLM = append([]Content(nil), v.ForLLM...)
		c.ForUser = append([]Content(nil), v.ForUser...)
		return &c
	case *UserMessage:
		c := *v
		c.Content = append([]Content(nil), v.Content...)
		return &c
	default:
		panic(fmt.Sprintf("unknown interaction type %T", i))
	}
}
