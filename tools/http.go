// tools/http.go
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/mark3labs/mcp-go/mcp"
)

const maxPageBytes = 4 << 20

// HTTPTool fetches web pages from allowed domains as markdown
type HTTPTool struct {
	client    *http.Client
	allowList []string
}

// NewHTTPTool creates a new HTTP tool with domain allowlist
func NewHTTPTool(allowList []string, timeout time.Duration) *HTTPTool {
	return &HTTPTool{
		client: &http.Client{
			Timeout: timeout,
		},
		allowList: allowList,
	}
}

// Tool returns the fetch_page tool
func (t *HTTPTool) Tool() Tool {
	return Func(mcp.Tool{
		Name:        "fetch_page",
		Description: "Fetch a web page from an allowed domain and return it as markdown",
		InputSchema: objectSchema(map[string]interface{}{
			"url": prop("string", "URL to fetch"),
		}, "url"),
	}, t.execute)
}

type fetchArgs struct {
	URL string `json:"url"`
}

func (t *HTTPTool) allowed(url string) bool {
	for _, prefix := range t.allowList {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

func (t *HTTPTool) execute(ctx context.Context, args fetchArgs) (any, error) {
	// Check URL against allowlist
	if !t.allowed(args.URL) {
		return nil, fmt.Errorf("domain not in allowlist")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}

	content := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		md, err := htmltomarkdown.ConvertString(content, converter.WithDomain(args.URL))
		if err != nil {
			return nil, fmt.Errorf("failed to convert page: %w", err)
		}
		content = md
	}

	return map[string]interface{}{
		"status":  resp.StatusCode,
		"content": content,
	}, nil
}
