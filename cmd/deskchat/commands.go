// cmd/deskchat/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sammcj/deskchat/events"
	"github.com/sammcj/deskchat/interactive"
	"github.com/sammcj/deskchat/llm"
	"github.com/sammcj/deskchat/mcpserver"
	"github.com/sammcj/deskchat/server"
	"github.com/sammcj/deskchat/store"
	"github.com/spf13/cobra"
)

// serveCmd runs the HTTP and WebSocket API
func serveCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API and UI event channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			hub := server.NewHub(logger)
			a, err := buildApp(ctx, hub, true)
			if err != nil {
				return err
			}

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv := server.New(server.Options{
				Conversation: a.conv,
				Tools:        a.registry,
				Settings:     a.settings,
				Hub:          hub,
				Tracker:      a.tracker,
				Logger:       logger,
			})
			httpSrv := srv.Listen(net.JoinHostPort(host, strconv.Itoa(port)))

			sm := server.NewShutdownManager(httpSrv, logger)
			a.register(sm)
			sm.Register("websocket hub", hub)

			errCh := make(chan error, 1)
			go func() {
				logger.Printf("Starting server on %s", httpSrv.Addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			shutdownCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				if err := <-errCh; err != nil {
					logger.Printf("Server stopped: %v", err)
				}
				cancel()
			}()
			return sm.HandleGracefulShutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

// chatCmd starts the terminal REPL
func chatCmd() *cobra.Command {
	var noMCP bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), interactive.NewPrinter(os.Stdout), !noMCP)
			if err != nil {
				return err
			}
			defer a.Close()

			repl := interactive.New(a.conv, interactive.Options{
				Model:  cfg.LLM.Model,
				Debug:  isDebug(cfg),
				Logger: logger,
			})
			return repl.Start(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "do not start configured MCP servers")
	return cmd
}

// mcpCmd serves the built-in tools over stdio
func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the built-in tools as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), events.Discard, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return mcpserver.NewMCPServer("deskchat", version, a.registry, logger).Serve()
		},
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Configuration file:", cfgFile)
			fmt.Println()
			fmt.Println("LLM:")
			fmt.Printf("  Endpoint:     %s\n", cfg.LLM.Endpoint)
			fmt.Printf("  Model:        %s\n", cfg.LLM.Model)
			fmt.Printf("  Search model: %s\n", cfg.LLM.SearchModel)
			fmt.Printf("  Map model:    %s\n", cfg.LLM.MapModel)
			fmt.Printf("  Providers:    %v\n", cfg.LLM.ProviderOrder)
			fmt.Printf("  Max steps:    %d\n", cfg.LLM.MaxSteps)
			fmt.Printf("  API key:      %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()
			fmt.Println("Documents:")
			fmt.Printf("  Root dir:     %s\n", cfg.Settings.RootDir)
			fmt.Printf("  soffice:      %s\n", cfg.Settings.SofficePath)
			fmt.Printf("  Cache dir:    %s\n", cfg.Settings.CacheDir)
			fmt.Println()
			fmt.Printf("MCP servers:    %d\n", len(cfg.MCPServers))
			for _, s := range cfg.MCPServers {
				fmt.Printf("  - %s: %s %v\n", s.Name, s.Command, s.Arguments)
			}
			fmt.Println()
			fmt.Printf("Storage:        %s (enabled: %t)\n", cfg.Storage.Path, cfg.Storage.Enable)
			fmt.Printf("Server:         %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Println()
			fmt.Println("Environment variables: DESKCHAT_API_KEY, DESKCHAT_ROOT_DIR")
			return nil
		},
	}
}

// historyCmd inspects the stored conversation
func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the stored conversation",
	}

	openStore := func(cmd *cobra.Command) (*store.Store, error) {
		if !cfg.Storage.Enable {
			return nil, fmt.Errorf("storage is disabled in %s", cfgFile)
		}
		return store.Open(cmd.Context(), cfg.Storage.Path, logger)
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored history as sent to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			h, err := s.Load(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(llm.RenderHistory(h))
		},
	}

	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range list {
				marker := " "
				if info.ID == s.Session() {
					marker = "*"
				}
				fmt.Printf("%s %s  %4d interactions  updated %s\n",
					marker, info.ID, info.Interactions, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Start a new empty session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.NewSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println("Started new session", id)
			return nil
		},
	}

	cmd.AddCommand(show, sessions, clearCmd)
	return cmd
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deskchat %s\n", version)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
