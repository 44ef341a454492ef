package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	return New(config.StaticSettings{
		APIKey:        "sk-test",
		Model:         "test/model",
		Endpoint:      url,
		ProviderOrder: []string{"p1", "p2"},
	}, log.New(io.Discard, "", 0))
}

func serve(t *testing.T, status int, body string, inspect func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			var got map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			inspect(r, got)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteRequestShape(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`, func(r *http.Request, body map[string]any) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "test/model", body["model"])
		assert.Equal(t, map[string]any{"order": []any{"p1", "p2"}}, body["provider"])

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, map[string]any{"role": "system", "content": "be brief"}, msgs[0])
		assert.Equal(t, "user", msgs[1].(map[string]any)["role"])

		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "ls", fn["name"])
		assert.Nil(t, body["response_format"])
	})

	c := testClient(srv.URL)
	msg, err := c.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: "user", Parts: []types.Content{types.TextContent("hello")}}},
		Tools: ConvertTools([]mcp.Tool{{
			Name:        "ls",
			Description: "list",
			InputSchema: mcp.ToolInputSchema{Type: "object"},
		}}),
	})
	require.NoError(t, err)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "hi", types.PlainText(msg.Content))
}

func TestCompleteStructuredOutput(t *testing.T) {
	schema := map[string]any{"type": "object"}
	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"{\"content\":\"x\",\"citations\":[\"u\"]}"}}]}`, func(r *http.Request, body map[string]any) {
		assert.Equal(t, "search/model", body["model"])
		assert.Equal(t, map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "output",
				"strict": true,
				"schema": map[string]any{"type": "object"},
			},
		}, body["response_format"])
		_, hasTools := body["tools"]
		assert.False(t, hasTools)
	})

	msg, err := testClient(srv.URL).Complete(context.Background(), CompletionRequest{
		Model:    "search/model",
		Messages: []Message{{Role: "user", Text: "q"}},
		Schema:   schema,
	})
	require.NoError(t, err)

	var out struct {
		Content   string   `json:"content"`
		Citations []string `json:"citations"`
	}
	require.NoError(t, DecodeStructured(msg, &out))
	assert.Equal(t, "x", out.Content)
	assert.Equal(t, []string{"u"}, out.Citations)
}

func TestCompleteDegradesToText(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not json", http.StatusOK, "not json"},
		{"html gateway error", http.StatusBadGateway, "<html>bad gateway</html>"},
		{"json without choices", http.StatusOK, `{"error":{"message":"rate limited"}}`},
		{"empty choices", http.StatusOK, `{"choices":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body, nil)
			msg, err := testClient(srv.URL).Complete(context.Background(), CompletionRequest{})
			require.NoError(t, err)
			assert.Equal(t, "assistant", msg.Role)
			assert.Empty(t, msg.ToolCalls)
			assert.Equal(t, []types.Content{types.TextContent(tt.body)}, []types.Content(msg.Content))
		})
	}
}

func TestCompleteToolCalls(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
		{"id":"call_1","type":"function","function":{"name":"ls","arguments":"{\"relative_path\":\".\"}"}},
		{"id":"call_2","type":"function","function":{"name":"roll_dice","arguments":""}}]}}]}`, nil)

	msg, err := testClient(srv.URL).Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, `{"relative_path":"."}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "roll_dice", msg.ToolCalls[1].Function.Name)
}

func TestCompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrLLMResponse))
	var llmErr *types.LLMError
	assert.True(t, errors.As(err, &llmErr))
}

func TestCompleteHonoursContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(srv.URL).Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
