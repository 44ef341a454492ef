// config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sammcj/deskchat/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".config/deskchat"
	defaultConfigFile = "config.yaml"

	envAPIKey  = "DESKCHAT_API_KEY"
	envRootDir = "DESKCHAT_ROOT_DIR"
)

// MCPServerConfig holds configuration for a single external MCP server
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Command   string            `yaml:"command"`
	Arguments []string          `yaml:"arguments"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// Config holds the complete configuration
type Config struct {
	LLM struct {
		Model          string   `yaml:"model"`
		Endpoint       string   `yaml:"endpoint"`
		APIKey         string   `yaml:"api_key"`
		SystemPrompt   string   `yaml:"system_prompt"`
		ProviderOrder  []string `yaml:"provider_order"`
		SearchModel    string   `yaml:"search_model"`
		MapModel       string   `yaml:"map_model"`
		MaxSteps       int      `yaml:"max_steps"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"llm"`

	Settings struct {
		RootDir     string `yaml:"root_dir"`
		SofficePath string `yaml:"soffice_path"`
		CacheDir    string `yaml:"cache_dir"`
	} `yaml:"settings"`

	Tools struct {
		FetchAllowList     []string      `yaml:"fetch_allow_list"`
		StragglerThreshold time.Duration `yaml:"straggler_threshold"`
	} `yaml:"tools"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	Storage struct {
		Enable bool   `yaml:"enable"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enable bool `yaml:"enable"`
	} `yaml:"tracing"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	// LLM defaults
	cfg.LLM.Model = "google/gemini-2.5-pro"
	cfg.LLM.Endpoint = "https://openrouter.ai/api/v1/chat/completions"
	cfg.LLM.ProviderOrder = []string{"google-vertex"}
	cfg.LLM.SearchModel = "perplexity/sonar"
	cfg.LLM.MapModel = "google/gemini-2.5-flash"
	cfg.LLM.MaxSteps = 25
	cfg.LLM.TimeoutSeconds = 300
	cfg.LLM.SystemPrompt = `You are a helpful assistant working on the user's documents.

[Tools]
All paths are relative to the user's root directory.
1. Use ls and find to discover files before loading or querying them
2. Use ask_files or ask_files_glob for questions spanning many files
3. Use load_file when the full content of one file is needed
4. Record facts worth keeping with append_notes and check read_notes first`

	// Tool defaults
	cfg.Tools.StragglerThreshold = 5 * time.Minute

	// Storage defaults
	cfg.Storage.Enable = true
	cfg.Storage.Path = "history.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	// Server defaults
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080

	return cfg
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, defaultConfigDir)
	return filepath.Join(configDir, defaultConfigFile), nil
}

// LoadOrCreate loads the config file if it exists, or creates a default one if it doesn't.
// An empty path selects the default location.
func LoadOrCreate(path string) (*Config, string, bool, error) {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, "", false, err
		}
	}

	// Check if config directory exists
	configDir := filepath.Dir(path)
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, "", false, fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// Check if config file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(path); err != nil {
			return nil, "", false, fmt.Errorf("failed to save default config: %w", err)
		}
		cfg.applyEnv()
		return cfg, path, true, nil
	}

	cfg, err := Load(path)
	return cfg, path, false, err
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with default config to ensure all fields have values
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveTo writes the configuration to path
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnv lets secrets and the root directory come from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv(envAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(envRootDir); v != "" {
		c.Settings.RootDir = v
	}
}

// Validate checks that required fields are present and valid
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return &types.ConfigError{Field: "llm.model", Message: "is required"}
	}
	if c.LLM.Endpoint == "" {
		return &types.ConfigError{Field: "llm.endpoint", Message: "is required"}
	}
	if !strings.HasPrefix(c.LLM.Endpoint, "http://") && !strings.HasPrefix(c.LLM.Endpoint, "https://") {
		return &types.ConfigError{Field: "llm.endpoint", Message: "must be an http(s) URL"}
	}
	if c.LLM.MaxSteps <= 0 {
		return &types.ConfigError{Field: "llm.max_steps", Message: "must be positive"}
	}

	for i, server := range c.MCPServers {
		if server.Name == "" {
			return &types.ConfigError{Field: fmt.Sprintf("mcp_servers[%d].name", i), Message: "is required"}
		}
		if server.Command == "" {
			return &types.ConfigError{Field: fmt.Sprintf("mcp_servers[%d].command", i), Message: "is required"}
		}
	}

	if c.Storage.Enable && c.Storage.Path == "" {
		return &types.ConfigError{Field: "storage.path", Message: "is required when storage is enabled"}
	}

	return nil
}

// ParseProviderOrder splits a comma separated provider list
func ParseProviderOrder(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
