// bridge/mcpclient.go
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/tools"
	"github.com/sammcj/deskchat/types"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpRequestTimeout  = 60 * time.Second
)

var errClientClosed = errors.New("mcp client closed")

// MCPClient speaks JSON-RPC to an external MCP server over stdio.
// Requests may be issued concurrently; responses are matched by id.
type MCPClient struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	logger  *log.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse

	closed    chan struct{}
	closeOnce sync.Once
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// isDevelopmentModeWarning checks if a message is a development mode warning
func isDevelopmentModeWarning(msg string) bool {
	return strings.Contains(msg, "Running in development mode")
}

// NewMCPClient starts the configured server process and performs the MCP
// handshake.
func NewMCPClient(ctx context.Context, cfg config.MCPServerConfig, logger *log.Logger) (*MCPClient, error) {
	logger.Printf("Creating new MCP client with command: %s %v", cfg.Command, cfg.Arguments)

	cmd := exec.Command(cfg.Command, cfg.Arguments...)
	cmd.Stderr = &stderrLogger{name: cfg.Name, logger: logger}

	// Set up environment
	env := os.Environ()
	env = append(env, "PYTHONUNBUFFERED=1")
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	logger.Printf("Starting MCP server process...")
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	client := newMCPClient(cfg.Name, stdin, stdout, logger)
	client.cmd = cmd

	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Printf("MCP server %s started with PID: %d", cfg.Name, cmd.Process.Pid)
	return client, nil
}

func newMCPClient(name string, stdin io.WriteCloser, stdout io.ReadCloser, logger *log.Logger) *MCPClient {
	c := &MCPClient{
		name:    name,
		stdin:   stdin,
		stdout:  stdout,
		logger:  logger,
		timeout: mcpRequestTimeout,
		nextID:  1,
		pending: make(map[int64]chan rpcResponse),
		closed:  make(chan struct{}),
	}

	// Start reading responses in a goroutine
	go c.readResponses()
	return c
}

// Name returns the configured server name
func (c *MCPClient) Name() string { return c.name }

func (c *MCPClient) readResponses() {
	defer c.shutdown()

	reader := bufio.NewReader(c.stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Printf("Error reading response from %s: %v", c.name, err)
			}
			return
		}
	}
}

func (c *MCPClient) handleLine(line []byte) {
	var msg rpcResponse
	if err := json.Unmarshal(line, &msg); err != nil {
		// Skip non-JSON lines (e.g., package manager startup messages)
		return
	}

	// Handle notifications separately
	if msg.ID == nil {
		if msg.Method != "" && !isDevelopmentModeWarning(string(msg.Params)) {
			c.logger.Printf("Notification from %s: %s %s", c.name, msg.Method, string(msg.Params))
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *MCPClient) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// call sends a request and waits for its response, the context, the
// timeout, or the connection closing.
func (c *MCPClient) call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal %s response: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errClientClosed
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s response", method)
	}
}

func (c *MCPClient) notify(method string, params interface{}) error {
	return c.send(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *MCPClient) send(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// Initialize performs the MCP handshake
func (c *MCPClient) Initialize(ctx context.Context) error {
	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "deskchat",
			"version": "0.1.0",
		},
	}, &result)
	if err != nil {
		return &types.BridgeError{Operation: "mcp_initialize", Message: "handshake with " + c.name + " failed", Err: err}
	}
	c.logger.Printf("Connected to MCP server %s (%s %s)", c.name, result.ServerInfo.Name, result.ServerInfo.Version)
	return c.notify("notifications/initialized", nil)
}

// ListTools returns the tools the server offers
func (c *MCPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var result struct {
		Tools []struct {
			Name        string              `json:"name"`
			Description string              `json:"description"`
			InputSchema mcp.ToolInputSchema `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", map[string]interface{}{}, &result); err != nil {
		return nil, err
	}

	out := make([]mcp.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, mcp.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

// CallTool invokes a tool and returns its text content. A result flagged
// isError by the server comes back as an error carrying that text.
func (c *MCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      req.Params.Name,
		"arguments": req.Params.Arguments,
	}, &raw)
	if err != nil {
		return nil, err
	}

	result := &mcp.CallToolResult{}
	var texts []string
	for _, item := range raw.Content {
		if item.Type == "text" {
			result.Content = append(result.Content, mcp.TextContent{Type: "text", Text: item.Text})
			texts = append(texts, item.Text)
		}
	}
	if raw.IsError {
		return nil, errors.New(strings.Join(texts, "\n"))
	}
	return result, nil
}

// Close stops the server process
func (c *MCPClient) Close() error {
	c.logger.Printf("Closing MCP client %s...", c.name)
	c.shutdown()

	var errs []error
	if err := c.stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("failed to kill process: %w", err))
		}
		_ = c.cmd.Wait()
	} else if err := c.stdout.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stdout: %w", err))
	}
	return errors.Join(errs...)
}

// stderrLogger forwards server stderr to the logger line by line
type stderrLogger struct {
	name   string
	logger *log.Logger
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" && !isDevelopmentModeWarning(line) {
			s.logger.Printf("[%s stderr] %s", s.name, line)
		}
	}
	return len(p), nil
}

// MCPTool exposes one external MCP tool through the registry
type MCPTool struct {
	client *MCPClient
	remote string
	spec   mcp.Tool
}

// NewMCPTool wraps a remote tool; its catalog name is <server>__<tool>
func NewMCPTool(client *MCPClient, remote mcp.Tool) *MCPTool {
	spec := remote
	spec.Name = sanitizeToolName(client.Name() + "__" + remote.Name)
	return &MCPTool{client: client, remote: remote.Name, spec: spec}
}

// Spec implements tools.Tool
func (t *MCPTool) Spec() mcp.Tool { return t.spec }

// Call implements tools.Tool
func (t *MCPTool) Call(ctx context.Context, arguments json.RawMessage) tools.ToolPayload {
	var args map[string]interface{}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return tools.Failure(&types.ToolError{Tool: t.spec.Name, Message: "invalid arguments", Err: err})
	}

	var req mcp.CallToolRequest
	req.Params.Name = t.remote
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.Failure(err)
	}

	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return tools.Success(strings.Join(texts, "\n"))
}

// ConnectMCPServers starts every configured server and registers its tools.
// A server that fails to start is logged and skipped.
func ConnectMCPServers(ctx context.Context, servers []config.MCPServerConfig, registry *tools.Registry, logger *log.Logger) []*MCPClient {
	var clients []*MCPClient
	for _, cfg := range servers {
		client, err := NewMCPClient(ctx, cfg, logger)
		if err != nil {
			logger.Printf("Failed to start MCP server %s: %v", cfg.Name, err)
			continue
		}
		if err := RegisterMCPTools(ctx, client, registry); err != nil {
			logger.Printf("Failed to register tools from %s: %v", cfg.Name, err)
			client.Close()
			continue
		}
		clients = append(clients, client)
	}
	return clients
}

// RegisterMCPTools lists the server's tools and adds them to the registry
func RegisterMCPTools(ctx context.Context, client *MCPClient, registry *tools.Registry) error {
	remote, err := client.ListTools(ctx)
	if err != nil {
		return err
	}
	wrapped := make([]tools.Tool, 0, len(remote))
	for _, t := range remote {
		wrapped = append(wrapped, NewMCPTool(client, t))
	}
	return registry.Register(wrapped...)
}

// sanitizeToolName converts a tool name to a format compatible with LLMs
func sanitizeToolName(name string) string {
	// Replace characters that might cause issues
	var b strings.Builder
	for _, r := range name {
		if r == '-' || r == ' ' || r == '.' || r == '/' {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
