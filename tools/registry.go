// tools/registry.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/metrics"
	"github.com/sammcj/deskchat/tracing"
	"github.com/sammcj/deskchat/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Registry is the ordered tool catalog and the single dispatch point for
// tool calls made by the model.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]Tool
	logger *log.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds tools in order. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		name := t.Spec().Name
		if name == "" {
			return fmt.Errorf("tool has no name")
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("tool already registered: %s", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Specs returns the catalog in registration order
func (r *Registry) Specs() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Dispatch runs the named tool with JSON-encoded arguments. It never returns
// an error: unknown tools, bad arguments, failures and panics all come back
// as a payload carrying a *types.ToolError.
func (r *Registry) Dispatch(ctx context.Context, name, arguments string) (payload ToolPayload) {
	ctx, span := tracing.Tracer().Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	start := time.Now()
	defer func() {
		status := "ok"
		if payload.Err != nil {
			status = "error"
			span.RecordError(payload.Err)
			span.SetStatus(codes.Error, payload.Err.Error())
		}
		metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}()

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Printf("Unknown tool requested: %s", name)
		return Failure(toolErr(name, "no such tool"))
	}

	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return Failure(&types.ToolError{Tool: name, Message: "invalid arguments", Err: err})
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validateArguments(args, tool.Spec().InputSchema); err != nil {
		return Failure(&types.ToolError{Tool: name, Message: "invalid arguments", Err: err})
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("Tool %s panicked: %v", name, rec)
			payload = Failure(&types.ToolError{Tool: name, Message: fmt.Sprintf("panic: %v", rec)})
		}
	}()

	payload = tool.Call(ctx, json.RawMessage(arguments))
	if payload.Err != nil {
		r.logger.Printf("Tool execution failed: %v", payload.Err)
		payload.Err = asToolError(name, payload.Err)
	}
	return payload
}
