// bridge/conversation.go
package bridge

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/sammcj/deskchat/events"
	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/metrics"
	"github.com/sammcj/deskchat/types"
)

// Saver persists a history snapshot
type Saver interface {
	Save(ctx context.Context, h *history.History) error
}

// Conversation is the application context around one chat: the shared
// history, the admission state that allows a single turn at a time, and the
// collaborators a turn needs.
type Conversation struct {
	history   *history.Shared
	processor *Processor
	publisher *events.Publisher
	saver     Saver
	logger    *log.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	idle   chan struct{}
}

// ConversationOption configures a Conversation
type ConversationOption func(*Conversation)

// WithSaver persists the history after every turn and repair
func WithSaver(s Saver) ConversationOption {
	return func(c *Conversation) { c.saver = s }
}

// WithHistory starts from an existing history
func WithHistory(h *history.History) ConversationOption {
	return func(c *Conversation) { c.history.Replace(h) }
}

// NewConversation creates a conversation publishing through emitter
func NewConversation(processor *Processor, emitter events.Emitter, logger *log.Logger, opts ...ConversationOption) *Conversation {
	if logger == nil {
		logger = log.Default()
	}
	c := &Conversation{
		history:   history.NewShared(history.New()),
		processor: processor,
		publisher: events.NewPublisher(emitter, logger),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// admit claims the conversation for one turn. The returned context is
// cancelled by Cancel or by the parent.
func (c *Conversation) admit(parent context.Context, operation string) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		metrics.TurnConflicts.Inc()
		return nil, &types.ConflictError{Operation: operation}
	}
	ctx, cancel := context.WithCancel(parent)
	c.active = true
	c.cancel = cancel
	c.idle = make(chan struct{})
	return ctx, nil
}

func (c *Conversation) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.active = false
	c.cancel = nil
	if c.idle != nil {
		close(c.idle)
		c.idle = nil
	}
}

// Busy reports whether a turn is in progress
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Chat runs one turn for the user's content. Content with an unusable part
// fails with *types.ContentError, and a second call while a turn is running
// fails with *types.ConflictError; neither changes anything. A cancelled turn
// is not an error.
func (c *Conversation) Chat(ctx context.Context, content []types.Content) error {
	if err := types.ValidateContent(content); err != nil {
		return err
	}
	turnCtx, err := c.admit(ctx, "chat")
	if err != nil {
		return err
	}
	defer c.release()

	metrics.TurnsActive.Inc()
	defer metrics.TurnsActive.Dec()

	c.publisher.Start()
	defer c.publisher.End()

	user := (events.UI{}).Sends(content)
	c.history.Do(func(h *history.History) { h.Push(user) })
	c.publisher.Interaction(user)

	err = c.processor.Run(turnCtx, c.history, c.publisher)
	c.persist(context.WithoutCancel(ctx))

	switch {
	case err == nil:
		metrics.TurnsTotal.WithLabelValues("completed").Inc()
		return nil
	case errors.Is(err, types.ErrTurnCancelled):
		metrics.TurnsTotal.WithLabelValues("cancelled").Inc()
		return nil
	default:
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		c.logger.Printf("Turn failed: %v", err)
		c.publisher.Error(err)
		return err
	}
}

// Cancel signals the in-flight turn, if any, and returns immediately
func (c *Conversation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// cancelAndWait cancels the in-flight turn and waits until it has released
// admission, so repairs never interleave with a running turn.
func (c *Conversation) cancelAndWait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteMessage cancels any running turn, then removes the interaction and
// everything paired with it. It reports whether the id was found.
func (c *Conversation) DeleteMessage(ctx context.Context, id uint64) (bool, error) {
	if err := c.cancelAndWait(ctx); err != nil {
		return false, err
	}
	var found bool
	c.history.Do(func(h *history.History) { found = h.DeleteByID(id) })
	if found {
		c.persist(ctx)
	}
	return found, nil
}

// DeleteToolInteraction cancels any running turn, then removes a tool call
// and its result.
func (c *Conversation) DeleteToolInteraction(ctx context.Context, toolCallID string) (bool, error) {
	if err := c.cancelAndWait(ctx); err != nil {
		return false, err
	}
	var found bool
	c.history.Do(func(h *history.History) { found = h.DeleteByToolID(toolCallID) })
	if found {
		c.persist(ctx)
	}
	return found, nil
}

// ClearHistory cancels any running turn, then empties the history
func (c *Conversation) ClearHistory(ctx context.Context) error {
	if err := c.cancelAndWait(ctx); err != nil {
		return err
	}
	c.history.Do(func(h *history.History) { h.Clear() })
	c.persist(ctx)
	return nil
}

// ReplayHistory re-emits the whole history to the UI
func (c *Conversation) ReplayHistory() {
	c.publisher.Replay(c.history.Snapshot())
}

// History returns a snapshot of the conversation
func (c *Conversation) History() *history.History {
	return c.history.Snapshot()
}

// Restore installs a previously saved history. It fails while a turn runs.
func (c *Conversation) Restore(h *history.History) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return &types.ConflictError{Operation: "restore history"}
	}
	c.history.Replace(h)
	return nil
}

func (c *Conversation) persist(ctx context.Context) {
	if c.saver == nil {
		return
	}
	if err := c.saver.Save(ctx, c.history.Snapshot()); err != nil {
		c.logger.Printf("Failed to save history: %v", err)
	}
}
