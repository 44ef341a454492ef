// llm/catalog.go
package llm

import "github.com/mark3labs/mcp-go/mcp"

// ToolDescriptor advertises one tool to the model
type ToolDescriptor struct {
	Type     string             `json:"type"`
	Function FunctionDescriptor `json:"function"`
}

// FunctionDescriptor describes a callable function
type FunctionDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ConvertTools converts MCP tool specs to the endpoint's tool format,
// preserving order.
func ConvertTools(tools []mcp.Tool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		properties := tool.InputSchema.Properties
		if properties == nil {
			properties = map[string]interface{}{}
		}
		params := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}

		out = append(out, ToolDescriptor{
			Type: "function",
			Function: FunctionDescriptor{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
