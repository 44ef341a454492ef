// bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/events"
	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/llm"
	"github.com/sammcj/deskchat/metrics"
	"github.com/sammcj/deskchat/tools"
	"github.com/sammcj/deskchat/tools/leakdetector"
	"github.com/sammcj/deskchat/tracing"
	"github.com/sammcj/deskchat/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the model calls of one turn when settings leave it unset
const DefaultMaxSteps = 25

// Completer produces the next assistant message for a rendered conversation
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.IncomingMessage, error)
}

// Dispatcher runs tool calls and advertises the tool catalog
type Dispatcher interface {
	Specs() []mcp.Tool
	Dispatch(ctx context.Context, name, arguments string) tools.ToolPayload
}

// RetryPolicy controls retries of retryable completion failures
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Processor drives one turn: it alternates between asking the model and
// running the tools it requested until the model answers in plain content.
type Processor struct {
	completer Completer
	tools     Dispatcher
	settings  config.SettingsProvider
	tracker   *leakdetector.Detector
	logger    *log.Logger
	retry     RetryPolicy
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithRetry sets the completion retry policy
func WithRetry(policy RetryPolicy) ProcessorOption {
	return func(p *Processor) { p.retry = policy }
}

// WithTracker registers tool tasks with a leak detector
func WithTracker(d *leakdetector.Detector) ProcessorOption {
	return func(p *Processor) { p.tracker = d }
}

// NewProcessor creates a turn processor
func NewProcessor(completer Completer, dispatcher Dispatcher, settings config.SettingsProvider, logger *log.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	p := &Processor{
		completer: completer,
		tools:     dispatcher,
		settings:  settings,
		logger:    logger,
		retry:     RetryPolicy{Attempts: 3, Backoff: time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the turn against h, publishing every new interaction.
//
// It returns nil once the model answers without tool calls, an
// *types.LLMError when the endpoint fails or the step bound is exceeded,
// and types.ErrTurnCancelled when ctx is cancelled. On cancellation the
// tool calls left without a result are stripped from the latest response
// before returning. Tasks still running keep going and their results are
// dropped when they land.
func (p *Processor) Run(ctx context.Context, h *history.Shared, pub *events.Publisher) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "chat.turn")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s := p.settings.Settings()
	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	catalog := llm.ConvertTools(p.tools.Specs())
	if len(catalog) == 0 {
		catalog = nil
	}

	for step := 0; ; step++ {
		if step >= maxSteps {
			return &types.LLMError{Operation: "turn", Message: fmt.Sprintf("model requested tools for more than %d steps", maxSteps)}
		}
		if ctx.Err() != nil {
			return p.cancelled(h)
		}

		req := llm.CompletionRequest{
			SystemPrompt: s.SystemPrompt,
			Messages:     llm.RenderHistory(h.Snapshot()),
			Tools:        catalog,
		}
		msg, err := p.complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelled(h)
			}
			return err
		}

		resp, ok := llm.Wire{}.Sends(*msg).(*types.LlmResponse)
		if !ok || resp.IsEmpty() {
			p.logger.Printf("Model returned an empty response, ending turn")
			pub.Error(errEmptyReply)
			return nil
		}

		h.Do(func(h *history.History) { h.Push(resp) })
		pub.Interaction(resp)

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		span.AddEvent("tool_phase", trace.WithAttributes(attribute.Int("tool.calls", len(resp.ToolCalls))))
		if err := p.runTools(ctx, h, pub, resp); err != nil {
			return p.cancelled(h)
		}
		h.Do(func(h *history.History) { h.SortToolResults(resp.ID) })
	}
}

func (p *Processor) cancelled(h *history.Shared) error {
	var stripped []string
	h.Do(func(h *history.History) { stripped = h.CleanUnfinishedToolCalls() })
	if len(stripped) > 0 {
		p.logger.Printf("Turn cancelled, removed %d unfinished tool calls: %v", len(stripped), stripped)
	} else {
		p.logger.Printf("Turn cancelled")
	}
	return types.ErrTurnCancelled
}

// complete calls the model, retrying retryable failures with backoff. The
// wait races against ctx.
func (p *Processor) complete(ctx context.Context, req llm.CompletionRequest) (*llm.IncomingMessage, error) {
	attempts := p.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.retry.Backoff

	for attempt := 1; ; attempt++ {
		p.logger.Printf("Generating LLM response (attempt %d/%d)", attempt, attempts)
		msg, err := p.completeOnce(ctx, req)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= attempts || !isRetryableError(err) {
			p.logger.Printf("LLM request failed: %v", err)
			return nil, err
		}

		p.logger.Printf("Retrying after error: %v (attempt %d/%d)", err, attempt, attempts)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

func (p *Processor) completeOnce(ctx context.Context, req llm.CompletionRequest) (*llm.IncomingMessage, error) {
	type outcome struct {
		msg *llm.IncomingMessage
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		msg, err := p.completer.Complete(ctx, req)
		ch <- outcome{msg, err}
	}()

	select {
	case o := <-ch:
		if o.err == nil && o.msg == nil {
			return nil, &types.LLMError{Operation: "complete", Message: "no message returned"}
		}
		return o.msg, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runTools executes every call of resp concurrently. Each task attaches its
// own result under the history lock. The join races against ctx; tasks run
// on a context that is never cancelled.
func (p *Processor) runTools(ctx context.Context, h *history.Shared, pub *events.Publisher, resp *types.LlmResponse) error {
	p.logger.Printf("Processing %d tool calls", len(resp.ToolCalls))

	taskCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, call := range resp.ToolCalls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runTool(taskCtx, h, pub, resp.ID, call)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) runTool(ctx context.Context, h *history.Shared, pub *events.Publisher, responseID uint64, call types.ToolCall) {
	if p.tracker != nil {
		id := p.tracker.Track(call.Function.Name, call.ID)
		defer p.tracker.Done(id)
	}

	payload := p.tools.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
	if payload.Err != nil {
		p.logger.Printf("Tool %s (%s) failed: %v", call.Function.Name, call.ID, payload.Err)
	}
	result := payload.Finalize(call.ID)

	var attached bool
	h.Do(func(h *history.History) { attached = h.AttachToolResult(responseID, result) })
	if !attached {
		metrics.ToolResultsDropped.Inc()
		p.logger.Printf("Dropping result of %s (%s): its call is no longer in history", call.Function.Name, call.ID)
		return
	}
	pub.Interaction(result)
}

var errEmptyReply = errors.New("the model returned an empty response")

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for network/timeout errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
