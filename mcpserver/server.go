// mcpserver/server.go
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sammcj/deskchat/tools"
	"github.com/sammcj/deskchat/types"
)

// MCPServer exposes the tool registry to MCP clients over stdio
type MCPServer struct {
	server   *server.MCPServer
	registry *tools.Registry
	logger   *log.Logger
}

// NewMCPServer registers every tool of the registry
func NewMCPServer(name, version string, registry *tools.Registry, logger *log.Logger) *MCPServer {
	if logger == nil {
		logger = log.Default()
	}
	s := &MCPServer{
		server: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithLogging(),
		),
		registry: registry,
		logger:   logger,
	}

	for _, spec := range registry.Specs() {
		s.server.AddTool(spec, s.handler(spec.Name))
	}
	s.server.AddNotificationHandler(s.handleNotification)

	logger.Printf("MCP server created with %d tools", registry.Len())
	return s
}

func (s *MCPServer) handler(name string) func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	return func(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
		if arguments == nil {
			arguments = map[string]interface{}{}
		}
		data, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}

		s.logger.Printf("Executing tool: %s", name)
		payload := s.registry.Dispatch(context.Background(), name, string(data))
		if payload.Err != nil {
			s.logger.Printf("Tool %s failed: %v", name, payload.Err)
			return nil, payload.Err
		}

		result := payload.Finalize("")
		content := []interface{}{
			mcp.TextContent{Type: "text", Text: result.Response},
		}
		if extra := types.PlainText(result.ForLLM); extra != "" {
			content = append(content, mcp.TextContent{Type: "text", Text: extra})
		}
		return &mcp.CallToolResult{Content: content}, nil
	}
}

func (s *MCPServer) handleNotification(notification mcp.JSONRPCNotification) {
	s.logger.Printf("Received notification: %s", notification.Method)
}

// Serve blocks serving stdin/stdout
func (s *MCPServer) Serve() error {
	s.logger.Println("Starting MCP server...")
	if err := server.ServeStdio(s.server); err != nil {
		s.logger.Printf("Server error: %v", err)
		return fmt.Errorf("server error: %w", err)
	}
	s.logger.Println("MCP server stopped")
	return nil
}
