// llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/metrics"
	"github.com/sammcj/deskchat/types"
)

// Client talks to an OpenAI-compatible chat completion endpoint
type Client struct {
	settings   config.SettingsProvider
	httpClient *http.Client
	logger     *log.Logger
	debug      bool
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDebug logs request and response bodies
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// New creates a client that reads endpoint, model, API key and provider
// order from settings on every call.
func New(settings config.SettingsProvider, logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompletionRequest describes one completion call
type CompletionRequest struct {
	// Model overrides the configured model when set
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDescriptor
	// Schema, when set, requests structured output matching this JSON schema
	Schema any
}

// Request represents a request body sent to the endpoint
type Request struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	Tools          []ToolDescriptor `json:"tools,omitempty"`
	Provider       *ProviderPrefs   `json:"provider,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
}

// ProviderPrefs selects upstream providers in order of preference
type ProviderPrefs struct {
	Order []string `json:"order"`
}

// ResponseFormat requests structured output
type ResponseFormat struct {
	Type       string     `json:"type"`
	JSONSchema JSONSchema `json:"json_schema"`
}

// JSONSchema names the schema the output must follow
type JSONSchema struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict"`
	Schema any    `json:"schema"`
}

// Response represents a response body from the endpoint
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice is one completion alternative
type Choice struct {
	Message IncomingMessage `json:"message"`
}

// Complete sends the request and returns the first choice's message.
//
// Only transport failures are errors. A body that is not a completion, or a
// non-2xx status, comes back as an assistant message whose text is the raw body.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*IncomingMessage, error) {
	s := c.settings.Settings()

	model := req.Model
	if model == "" {
		model = s.Model
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Text: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	body := Request{
		Model:    model,
		Messages: messages,
		Tools:    req.Tools,
	}
	if len(s.ProviderOrder) > 0 {
		body.Provider = &ProviderPrefs{Order: s.ProviderOrder}
	}
	if req.Schema != nil {
		body.ResponseFormat = &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: JSONSchema{Name: "output", Strict: true, Schema: req.Schema},
		}
	}

	return c.sendRequest(ctx, s, body)
}

// sendRequest sends a request to the endpoint
func (c *Client) sendRequest(ctx context.Context, s config.Settings, req Request) (*IncomingMessage, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &types.LLMError{Operation: "complete", Message: "failed to marshal request", Err: err}
	}

	if c.debug {
		c.logger.Printf("Request data: %s", string(data))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &types.LLMError{Operation: "complete", Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.LLMRequestDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(req.Model, "transport_error").Inc()
		return nil, &types.LLMError{Operation: "complete", Message: "failed to send request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(req.Model, "transport_error").Inc()
		return nil, &types.LLMError{Operation: "complete", Message: "failed to read response body", Err: err}
	}
	metrics.LLMRequestsTotal.WithLabelValues(req.Model, strconv.Itoa(resp.StatusCode)).Inc()

	if c.debug {
		c.logger.Printf("Received response: %s", string(body))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("Unexpected status code %d from completion endpoint", resp.StatusCode)
		return rawTextMessage(body), nil
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		c.logger.Printf("Completion body is not a valid response, passing it through as text")
		return rawTextMessage(body), nil
	}

	msg := parsed.Choices[0].Message
	if msg.Role == "" {
		msg.Role = "assistant"
	}
	return &msg, nil
}

func rawTextMessage(body []byte) *IncomingMessage {
	return &IncomingMessage{
		Role:    "assistant",
		Content: IncomingContent{types.TextContent(string(body))},
	}
}

// DecodeStructured unmarshals the text of a structured-output reply into v
func DecodeStructured(msg *IncomingMessage, v any) error {
	text := types.PlainText(msg.Content)
	if text == "" {
		return fmt.Errorf("response has no text content")
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("failed to decode structured response: %w", err)
	}
	return nil
}
