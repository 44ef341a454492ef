// tools/validator.go
package tools

import (
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
)

// validateArguments validates tool arguments against a schema. Properties the
// schema does not describe are ignored.
func validateArguments(args map[string]interface{}, schema mcp.ToolInputSchema) error {
	// Check required fields
	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required field: %s", required)
		}
	}

	// Validate properties
	for name, value := range args {
		propSchema, ok := schema.Properties[name].(map[string]interface{})
		if !ok {
			continue
		}

		propType, ok := propSchema["type"].(string)
		if !ok {
			continue
		}

		if err := validateType(value, propType); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}

	return nil
}

// validateType validates a decoded JSON value against a JSON Schema type
func validateType(value interface{}, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %s", jsonType(value))
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("expected number, got %s", jsonType(value))
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %s", jsonType(value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %s", jsonType(value))
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %s", jsonType(value))
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %s", jsonType(value))
		}
	case "null":
		if value != nil {
			return fmt.Errorf("expected null, got %s", jsonType(value))
		}
	default:
		return fmt.Errorf("unsupported type: %s", expectedType)
	}

	return nil
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
