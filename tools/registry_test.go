package tools

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func testRegistry(t *testing.T, extra ...Tool) *Registry {
	t.Helper()
	r := NewRegistry(log.New(io.Discard, "", 0))
	echo := Func(mcp.Tool{
		Name: "echo",
		InputSchema: objectSchema(map[string]interface{}{
			"text":  prop("string", ""),
			"count": prop("integer", ""),
		}, "text"),
	}, func(ctx context.Context, args echoArgs) (any, error) {
		return map[string]any{"text": args.Text, "count": args.Count}, nil
	})
	require.NoError(t, r.Register(append([]Tool{echo}, extra...)...))
	return r
}

func TestDispatch(t *testing.T) {
	failing := Func(mcp.Tool{Name: "fail", InputSchema: objectSchema(nil)}, func(ctx context.Context, _ NoArgs) (any, error) {
		return nil, errors.New("disk on fire")
	})
	panicking := Func(mcp.Tool{Name: "panic", InputSchema: objectSchema(nil)}, func(ctx context.Context, _ NoArgs) (any, error) {
		panic("boom")
	})
	r := testRegistry(t, failing, panicking)

	tests := []struct {
		name      string
		tool      string
		args      string
		wantErr   string
		wantValue any
	}{
		{name: "success", tool: "echo", args: `{"text":"hi","count":2}`, wantValue: map[string]any{"text": "hi", "count": 2}},
		{name: "unknown properties ignored", tool: "echo", args: `{"text":"hi","extra":true}`, wantValue: map[string]any{"text": "hi", "count": 0}},
		{name: "unknown tool", tool: "nope", args: `{}`, wantErr: "tool error in nope: no such tool"},
		{name: "bad json", tool: "echo", args: `{"text":`, wantErr: "invalid arguments"},
		{name: "missing required", tool: "echo", args: `{}`, wantErr: "missing required field: text"},
		{name: "wrong type", tool: "echo", args: `{"text":1}`, wantErr: "invalid value for text: expected string, got number"},
		{name: "not an integer", tool: "echo", args: `{"text":"a","count":1.5}`, wantErr: "expected integer"},
		{name: "tool failure", tool: "fail", args: ``, wantErr: "tool error in fail: execution failed: disk on fire"},
		{name: "panic", tool: "panic", args: `{}`, wantErr: "panic: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Dispatch(context.Background(), tt.tool, tt.args)
			if tt.wantErr != "" {
				require.Error(t, p.Err)
				assert.Contains(t, p.Err.Error(), tt.wantErr)
				assert.ErrorIs(t, p.Err, types.ErrToolExecution)
				return
			}
			require.NoError(t, p.Err)
			assert.Equal(t, tt.wantValue, p.Response)
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := testRegistry(t)
	err := r.Register(Func(mcp.Tool{Name: "echo"}, func(ctx context.Context, _ NoArgs) (any, error) { return nil, nil }))
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestSpecsKeepRegistrationOrder(t *testing.T) {
	noop := func(name string) Tool {
		return Func(mcp.Tool{Name: name}, func(ctx context.Context, _ NoArgs) (any, error) { return nil, nil })
	}
	r := testRegistry(t, noop("b"), noop("a"))

	var names []string
	for _, s := range r.Specs() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"echo", "b", "a"}, names)
}

func TestFinalize(t *testing.T) {
	file := types.FileContent("f.txt", "data:text/plain;base64,eA==")

	ok := Success([]string{"a", "b"}).WithUser(file).Finalize("c1")
	assert.Equal(t, "c1", ok.ToolCallID)
	assert.Equal(t, `["a","b"]`, ok.Response)
	assert.Equal(t, []types.Content{file}, ok.ForUser)
	assert.Empty(t, ok.ForLLM)

	failed := Failure(&types.ToolError{Tool: "ls", Message: "boom"}).Finalize("c2")
	assert.Equal(t, "tool error in ls: boom", failed.Response)

	text := Success("file_loaded").WithLLM(types.TextContent("body")).Finalize("c3")
	assert.Equal(t, `"file_loaded"`, text.Response)
	assert.Len(t, text.ForLLM, 1)
}
