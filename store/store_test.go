package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/sammcj/deskchat/bridge"
	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ bridge.Saver = (*Store)(nil)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(context.Background(), path, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sampleHistory() *history.History {
	return history.New(
		types.NewUserMessage([]types.Content{
			types.TextContent("what is in this picture?"),
			types.ImageContent("data:image/png;base64,AAAA"),
		}),
		types.NewLlmResponse(nil, []types.ToolCall{
			types.NewToolCall("call_1", "load_file", `{"path":"report.pdf"}`),
		}),
		types.NewToolResult("call_1", `"file_loaded"`,
			[]types.Content{types.FileContent("report.pdf", "data:application/pdf;base64,JVBE")},
			nil),
		types.NewLlmResponse([]types.Content{types.TextContent("A cat.")}, nil),
	)
}

func TestSaveAndLoad(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	original := sampleHistory()

	require.NoError(t, s.Save(ctx, original))
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate(false))

	want, got := original.Items(), loaded.Items()
	require.Len(t, got, len(want))
	for i := range want {
		assert.IsType(t, want[i], got[i])
		assert.NotEqual(t, want[i].InteractionID(), got[i].InteractionID(), "ids are reassigned on load")
	}

	user := got[0].(*types.UserMessage)
	assert.Equal(t, want[0].(*types.UserMessage).Content, user.Content)

	resp := got[1].(*types.LlmResponse)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "load_file", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"path":"report.pdf"}`, resp.ToolCalls[0].Function.Arguments)

	result := got[2].(*types.ToolResult)
	assert.Equal(t, "call_1", result.ToolCallID)
	require.Len(t, result.ForLLM, 1)
	assert.Equal(t, "report.pdf", result.ForLLM[0].File.Filename)

	assert.Equal(t, "A cat.", types.PlainText(got[3].(*types.LlmResponse).Content))
}

func TestSaveReplacesSession(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleHistory()))
	require.NoError(t, s.Save(ctx, history.New(types.NewUserMessage([]types.Content{types.TextContent("fresh")}))))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	require.NoError(t, s.Save(ctx, history.New()))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())
}

func TestReopenResumesLatestSession(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	first := s.Session()
	require.NoError(t, s.Save(ctx, sampleHistory()))

	second, err := s.NewSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, s.Save(ctx, history.New(types.NewUserMessage([]types.Content{types.TextContent("newer")}))))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, second, reopened.Session())

	sessions, err := reopened.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Interactions)
	assert.Equal(t, 4, sessions[1].Interactions)

	older, err := reopened.LoadSession(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 4, older.Len())
}

func TestLoadCorruptPayload(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (session_id, position, kind, payload) VALUES (?, 0, 'user', ?)`,
		s.Session(), []byte{0xc1})
	require.NoError(t, err)

	_, err = s.Load(ctx)
	var storeErr *types.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "load", storeErr.Operation)
	assert.ErrorIs(t, err, types.ErrStorage)
}
