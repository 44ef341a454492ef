// cmd/deskchat/main.go
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/sammcj/deskchat/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	configPath string
	cfg        *config.Config
	cfgFile    string
	logger     *log.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskchat",
		Short: "deskchat - a tool-using chat assistant for your documents",
		Long: `deskchat runs a conversation with an OpenAI-compatible model that can
call local tools over your documents and external MCP servers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var (
				created bool
				err     error
			)
			cfg, cfgFile, created, err = config.LoadOrCreate(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger = newLogger(cfg)
			if created {
				logger.Printf("Created default configuration at %s", cfgFile)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ~/.config/deskchat/config.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		mcpCmd(),
		configCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger returns the process logger. With logging.format json it writes
// structured records through slog.
func newLogger(c *config.Config) *log.Logger {
	if strings.EqualFold(c.Logging.Format, "json") {
		level := slog.LevelInfo
		if isDebug(c) {
			level = slog.LevelDebug
		}
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		l := slog.NewLogLogger(handler, slog.LevelInfo)
		log.SetOutput(l.Writer())
		log.SetFlags(0)
		return l
	}
	return log.Default()
}

func isDebug(c *config.Config) bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
