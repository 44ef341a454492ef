// cmd/deskchat/app.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sammcj/deskchat/bridge"
	"github.com/sammcj/deskchat/config"
	"github.com/sammcj/deskchat/events"
	"github.com/sammcj/deskchat/llm"
	"github.com/sammcj/deskchat/server"
	"github.com/sammcj/deskchat/store"
	"github.com/sammcj/deskchat/tools"
	"github.com/sammcj/deskchat/tools/leakdetector"
	"github.com/sammcj/deskchat/tracing"
)

const leakCheckInterval = 30 * time.Second

// app holds everything a command needs, built from the loaded config
type app struct {
	settings *config.Manager
	client   *llm.Client
	registry *tools.Registry
	tracker  *leakdetector.Detector
	mcp      []*bridge.MCPClient
	store    *store.Store
	conv     *bridge.Conversation

	stopTracing func(context.Context) error
}

// buildApp wires the conversation to emitter. MCP servers are started only
// when withMCP is set.
func buildApp(ctx context.Context, emitter events.Emitter, withMCP bool) (*app, error) {
	a := &app{settings: config.NewManager(cfg, cfgFile)}

	if cfg.Tracing.Enable {
		stop, err := tracing.InitTracer(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise tracing: %w", err)
		}
		a.stopTracing = stop
	}

	opts := []llm.Option{llm.WithDebug(isDebug(cfg))}
	if cfg.LLM.TimeoutSeconds > 0 {
		opts = append(opts, llm.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second}))
	}
	a.client = llm.New(a.settings, logger, opts...)

	a.registry = tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(a.registry, tools.Deps{
		Settings:       a.settings,
		Completer:      a.client,
		FetchAllowList: cfg.Tools.FetchAllowList,
	}); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	if withMCP {
		a.mcp = bridge.ConnectMCPServers(ctx, cfg.MCPServers, a.registry, logger)
	}

	threshold := cfg.Tools.StragglerThreshold
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	a.tracker = leakdetector.New(leakCheckInterval, threshold, logger)

	processor := bridge.NewProcessor(a.client, a.registry, a.settings, logger, bridge.WithTracker(a.tracker))
	var convOpts []bridge.ConversationOption
	if cfg.Storage.Enable {
		s, err := store.Open(ctx, cfg.Storage.Path, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = s
		h, err := s.Load(ctx)
		if err != nil {
			logger.Printf("Starting with an empty history: %v", err)
		} else {
			convOpts = append(convOpts, bridge.WithHistory(h))
		}
		convOpts = append(convOpts, bridge.WithSaver(s))
	}
	a.conv = bridge.NewConversation(processor, emitter, logger, convOpts...)
	return a, nil
}

// register hands every resource to the shutdown manager, in closing order
func (a *app) register(sm *server.ShutdownManager) {
	sm.Register("conversation", server.CloserFunc(func() error {
		a.conv.Cancel()
		return nil
	}))
	for _, c := range a.mcp {
		sm.Register("mcp client "+c.Name(), c)
	}
	sm.Register("leak detector", a.tracker)
	if a.store != nil {
		sm.Register("history store", a.store)
	}
	if a.stopTracing != nil {
		sm.Register("tracing", server.CloserFunc(func() error {
			return a.stopTracing(context.Background())
		}))
	}
}

// Close releases resources directly, for commands without a shutdown manager
func (a *app) Close() {
	if a.conv != nil {
		a.conv.Cancel()
	}
	for _, c := range a.mcp {
		if err := c.Close(); err != nil {
			logger.Printf("Error closing MCP client %s: %v", c.Name(), err)
		}
	}
	if a.tracker != nil {
		a.tracker.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.stopTracing != nil {
		a.stopTracing(context.Background())
	}
}
