// tools/online.go
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/llm"
	"github.com/sammcj/deskchat/types"
	"golang.org/x/sync/errgroup"
)

// MaxMapConcurrency bounds the completion calls a single ask_files runs at once
const MaxMapConcurrency = 50

const mapSystemPrompt = "You are a helpful assistant that answers questions about files. Your answer must be grounded."

// Completer is the completion capability tools delegate to
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.IncomingMessage, error)
}

// ModelTools are tools that call the completion endpoint themselves
type ModelTools struct {
	settings  config.SettingsProvider
	completer Completer
	loader    *FileLoader
}

// NewModelTools creates check_online, ask_files and ask_files_glob
func NewModelTools(settings config.SettingsProvider, completer Completer, loader *FileLoader) *ModelTools {
	return &ModelTools{settings: settings, completer: completer, loader: loader}
}

// Tools returns the model-backed tools
func (m *ModelTools) Tools() []Tool {
	return []Tool{
		Func(mcp.Tool{
			Name:        "check_online",
			Description: "Perform an internet search for facts using a search-capable model.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":           prop("string", "The query to search for."),
				"broader_context": prop("string", "Optional broader context for the query."),
			}, "query"),
		}, m.checkOnline),
		Func(mcp.Tool{
			Name: "ask_files",
			Description: "Queries a specific, user-provided list of files in parallel, making it efficient for targeted analysis of known files. " +
				"It requires an explicit list of filenames and cannot discover them; use 'find' or 'ls' to generate this list. " +
				"Works best for simple fact-finding queries.",
			InputSchema: objectSchema(map[string]interface{}{
				"query": prop("string", "The query to run against each file."),
				"filenames": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "A list of filenames to run the query against.",
				},
			}, "query", "filenames"),
		}, m.askFiles),
		Func(mcp.Tool{
			Name:        "ask_files_glob",
			Description: "Same as ask_files, but accepts a pattern to match more than 1 file. Must specify max_results",
			InputSchema: objectSchema(map[string]interface{}{
				"query":       prop("string", "The query to run against each file."),
				"pattern":     prop("string", "Pattern used to match files. Same logic as the `find` tool pattern"),
				"max_results": prop("integer", "Maximum results. If the pattern matches more than this, the tool returns an error. Start with 100."),
			}, "query", "pattern", "max_results"),
		}, m.askFilesGlob),
	}
}

type checkOnlineArgs struct {
	Query          string `json:"query"`
	BroaderContext string `json:"broader_context"`
}

// OnlineResult is the structured answer of check_online
type OnlineResult struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
}

var onlineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"content":   map[string]any{"type": "string"},
		"citations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"content", "citations"},
	"additionalProperties": false,
}

func (m *ModelTools) checkOnline(ctx context.Context, args checkOnlineArgs) (any, error) {
	s := m.settings.Settings()
	if s.APIKey == "" {
		return nil, errors.New("OpenRouter API key is not set")
	}

	msg, err := m.completer.Complete(ctx, llm.CompletionRequest{
		Model: s.SearchModel,
		Messages: []llm.Message{{
			Role: "user",
			Parts: []types.Content{
				types.TextContent("Research user query on the internet. take the broader context in consideration. Give both answer and citations."),
				types.TextContent("Broader context:\n" + args.BroaderContext),
				types.TextContent("Query:\n" + args.Query),
			},
		}},
		Schema: onlineSchema,
	})
	if err != nil {
		return nil, err
	}

	var result OnlineResult
	if err := llm.DecodeStructured(msg, &result); err != nil {
		return nil, fmt.Errorf("failed to get a valid response from the online search tool: %w", err)
	}
	return result, nil
}

type askFilesArgs struct {
	Query     string   `json:"query"`
	Filenames []string `json:"filenames"`
}

// FileAnswer is the structured answer for one file
type FileAnswer struct {
	Answer   string   `json:"answer"`
	Extracts []string `json:"extracts"`
}

// FileResult is one slot of an ask_files result. Exactly one of Output and
// Error is set.
type FileResult struct {
	Filename string      `json:"filename"`
	Output   *FileAnswer `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
}

var fileAnswerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"answer":   map[string]any{"type": "string"},
		"extracts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"answer", "extracts"},
	"additionalProperties": false,
}

func (m *ModelTools) askFiles(ctx context.Context, args askFilesArgs) (any, error) {
	return m.mapQuery(ctx, args.Query, args.Filenames)
}

type askFilesGlobArgs struct {
	Query      string `json:"query"`
	Pattern    string `json:"pattern"`
	MaxResults int    `json:"max_results"`
}

func (m *ModelTools) askFilesGlob(ctx context.Context, args askFilesGlobArgs) (any, error) {
	root := m.settings.Settings().RootDir
	if root == "" {
		return nil, errRootNotSet
	}
	files, err := searchFiles(root, args.Pattern)
	if err != nil {
		return nil, err
	}
	if len(files) > args.MaxResults {
		return nil, fmt.Errorf("found more files (%d) than limit (%d), raise the limit or narrow the search",
			len(files), args.MaxResults)
	}
	return m.mapQuery(ctx, args.Query, files)
}

// mapQuery asks the same question of every file. A failure for one file is
// recorded in its own slot and never affects the others.
func (m *ModelTools) mapQuery(ctx context.Context, query string, filenames []string) ([]FileResult, error) {
	s := m.settings.Settings()
	if s.RootDir == "" {
		return nil, errRootNotSet
	}

	results := make([]FileResult, len(filenames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxMapConcurrency)

	for i, filename := range filenames {
		g.Go(func() error {
			results[i].Filename = filename
			answer, err := m.askFile(gctx, s, query, filename)
			if err != nil {
				results[i].Error = "MapError: " + err.Error()
				return nil
			}
			results[i].Output = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *ModelTools) askFile(ctx context.Context, s config.Settings, query, filename string) (*FileAnswer, error) {
	path, err := jailedJoin(s.RootDir, filename)
	if err != nil {
		return nil, err
	}
	content, err := m.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	msg, err := m.completer.Complete(ctx, llm.CompletionRequest{
		Model:        s.MapModel,
		SystemPrompt: mapSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Text: fmt.Sprintf("File: %s\n\nQuery: %s", filename, query)},
			{Role: "user", Parts: content},
		},
		Schema: fileAnswerSchema,
	})
	if err != nil {
		return nil, err
	}

	var answer FileAnswer
	if err := llm.DecodeStructured(msg, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}
