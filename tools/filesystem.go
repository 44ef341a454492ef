// tools/filesystem.go
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
)

const notesFile = "_NOTES.txt"

var errRootNotSet = errors.New("root directory is not set, set it in the settings")

// FileSystemTool groups the tools that work inside the configured root dir
type FileSystemTool struct {
	settings config.SettingsProvider
}

// NewFileSystemTool creates the filesystem tools. The root dir is read from
// settings on every call.
func NewFileSystemTool(settings config.SettingsProvider) *FileSystemTool {
	return &FileSystemTool{settings: settings}
}

func (t *FileSystemTool) root() (string, error) {
	root := t.settings.Settings().RootDir
	if root == "" {
		return "", errRootNotSet
	}
	return root, nil
}

// Tools returns ls, find, read_notes and append_notes
func (t *FileSystemTool) Tools() []Tool {
	return []Tool{
		Func(mcp.Tool{
			Name:        "ls",
			Description: "List the content of a path relative to the root directory",
			InputSchema: objectSchema(map[string]interface{}{
				"relative_path": prop("string", "The path relative to the root directory"),
			}, "relative_path"),
		}, t.ls),
		Func(mcp.Tool{
			Name: "find",
			Description: "Locates files by glob, returning up to 'max_results' matches. If more files match, it returns an error and the total count, " +
				"prompting you to refine the glob. Use 'ls' to confirm existence or explore a directory before crafting a glob.",
			InputSchema: objectSchema(map[string]interface{}{
				"pattern": prop("string", "The pattern to match against. The pattern is first shell-lexed into individual terms, "+
					"each term is treated like a glob pattern, and terms are related by AND. Prefix a term with ! to exclude matches."),
				"max_results": prop("integer", "Maximum results. If the glob matches more than this, the tool returns an error. Start with 200."),
			}, "pattern", "max_results"),
		}, t.find),
		Func(mcp.Tool{
			Name:        "read_notes",
			Description: "Reads all notes from the _NOTES.txt file.",
			InputSchema: objectSchema(nil),
		}, t.readNotes),
		Func(mcp.Tool{
			Name:        "append_notes",
			Description: "Appends a markdown string to the _NOTES.txt file.",
			InputSchema: objectSchema(map[string]interface{}{
				"markdown_content": prop("string", "The markdown content to append to the notes."),
			}, "markdown_content"),
		}, t.appendNotes),
	}
}

type lsArgs struct {
	RelativePath string `json:"relative_path"`
}

func (t *FileSystemTool) ls(ctx context.Context, args lsArgs) (any, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}
	path, err := jailedJoin(root, args.RelativePath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

type findArgs struct {
	Pattern    string `json:"pattern"`
	MaxResults int    `json:"max_results"`
}

func (t *FileSystemTool) find(ctx context.Context, args findArgs) (any, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}
	files, err := searchFiles(root, args.Pattern)
	if err != nil {
		return nil, err
	}
	if len(files) > args.MaxResults {
		return nil, fmt.Errorf("found more files (%d) than limit (%d), raise the limit or narrow the search",
			len(files), args.MaxResults)
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}

func (t *FileSystemTool) readNotes(ctx context.Context, _ NoArgs) (any, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, notesFile))
	if errors.Is(err, os.ErrNotExist) {
		return "No notes found.", nil
	}
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

type appendNotesArgs struct {
	MarkdownContent string `json:"markdown_content"`
}

func (t *FileSystemTool) appendNotes(ctx context.Context, args appendNotesArgs) (any, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}

	entry := fmt.Sprintf("<note date=\"%s\">\n%s\n</note>\n\n", time.Now().Format(time.DateTime), args.MarkdownContent)

	f, err := os.OpenFile(filepath.Join(root, notesFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return nil, err
	}
	return "Note appended successfully.", nil
}
