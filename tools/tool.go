// tools/tool.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/types"
)

// ToolPayload is what a tool hands back: a value or an error destined for the
// model, plus optional content only the model or only the user sees.
type ToolPayload struct {
	Response any
	Err      error
	ForLLM   []types.Content
	ForUser  []types.Content
}

// Success wraps a successful result
func Success(v any) ToolPayload {
	return ToolPayload{Response: v}
}

// Failure wraps a failed result
func Failure(err error) ToolPayload {
	return ToolPayload{Err: err}
}

// WithLLM attaches content for the model
func (p ToolPayload) WithLLM(content ...types.Content) ToolPayload {
	p.ForLLM = append(p.ForLLM, content...)
	return p
}

// WithUser attaches content for the user
func (p ToolPayload) WithUser(content ...types.Content) ToolPayload {
	p.ForUser = append(p.ForUser, content...)
	return p
}

// Finalize turns the payload into the tool result answering toolCallID.
// A success is sent as JSON, a failure as its error text.
func (p ToolPayload) Finalize(toolCallID string) *types.ToolResult {
	var response string
	if p.Err != nil {
		response = p.Err.Error()
	} else {
		data, err := json.Marshal(p.Response)
		if err != nil {
			response = fmt.Sprintf("failed to serialize tool response: %v", err)
		} else {
			response = string(data)
		}
	}
	return types.NewToolResult(toolCallID, response, p.ForLLM, p.ForUser)
}

// Tool is one invocable capability advertised to the model
type Tool interface {
	Spec() mcp.Tool
	Call(ctx context.Context, arguments json.RawMessage) ToolPayload
}

type funcTool[A any] struct {
	spec mcp.Tool
	fn   func(ctx context.Context, args A) ToolPayload
}

func (t *funcTool[A]) Spec() mcp.Tool { return t.spec }

func (t *funcTool[A]) Call(ctx context.Context, arguments json.RawMessage) ToolPayload {
	var args A
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Failure(&types.ToolError{Tool: t.spec.Name, Message: "invalid arguments", Err: err})
	}
	return t.fn(ctx, args)
}

// Func builds a tool from a function returning a plain value
func Func[A any](spec mcp.Tool, fn func(ctx context.Context, args A) (any, error)) Tool {
	return &funcTool[A]{spec: spec, fn: func(ctx context.Context, args A) ToolPayload {
		v, err := fn(ctx, args)
		if err != nil {
			return Failure(err)
		}
		return Success(v)
	}}
}

// PayloadFunc builds a tool from a function that shapes its own payload
func PayloadFunc[A any](spec mcp.Tool, fn func(ctx context.Context, args A) ToolPayload) Tool {
	return &funcTool[A]{spec: spec, fn: fn}
}

// NoArgs is the argument type of tools without parameters
type NoArgs struct{}

func toolErr(tool, message string) error {
	return &types.ToolError{Tool: tool, Message: message}
}

func asToolError(tool string, err error) error {
	var te *types.ToolError
	if errors.As(err, &te) {
		return err
	}
	return &types.ToolError{Tool: tool, Message: "execution failed", Err: err}
}

// objectSchema builds an object input schema
func objectSchema(properties map[string]interface{}, required ...string) mcp.ToolInputSchema {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	return mcp.ToolInputSchema{Type: "object", Properties: properties, Required: required}
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}
