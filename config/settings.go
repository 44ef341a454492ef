// config/settings.go
package config

import (
	"fmt"
	"slices"
	"sync"
)

// Settings is the read-only snapshot handed to the completion client and tools
type Settings struct {
	APIKey        string
	Model         string
	Endpoint      string
	SystemPrompt  string
	ProviderOrder []string
	SearchModel   string
	MapModel      string
	MaxSteps      int
	RootDir       string
	SofficePath   string
	CacheDir      string
}

// SettingsProvider yields the current settings
type SettingsProvider interface {
	Settings() Settings
}

// StaticSettings is a SettingsProvider that never changes
type StaticSettings Settings

// Settings implements SettingsProvider
func (s StaticSettings) Settings() Settings {
	return Settings(s)
}

// Manager owns the live configuration. Readers get snapshots, writers go
// through Update which validates and persists.
type Manager struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// NewManager wraps cfg. With an empty path updates are kept in memory only.
func NewManager(cfg *Config, path string) *Manager {
	return &Manager{cfg: *cfg, path: path}
}

// Settings implements SettingsProvider
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(&m.cfg)
}

// Config returns a copy of the whole configuration
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.cfg
	c.LLM.ProviderOrder = slices.Clone(m.cfg.LLM.ProviderOrder)
	c.MCPServers = slices.Clone(m.cfg.MCPServers)
	c.Tools.FetchAllowList = slices.Clone(m.cfg.Tools.FetchAllowList)
	return c
}

// Update applies fn to a copy of the configuration, validates it, saves it
// and only then makes it visible.
func (m *Manager) Update(fn func(c *Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	next.LLM.ProviderOrder = slices.Clone(m.cfg.LLM.ProviderOrder)
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if m.path != "" {
		if err := next.SaveTo(m.path); err != nil {
			return fmt.Errorf("failed to persist settings: %w", err)
		}
	}
	m.cfg = next
	return nil
}

func snapshot(c *Config) Settings {
	return Settings{
		APIKey:        c.LLM.APIKey,
		Model:         c.LLM.Model,
		Endpoint:      c.LLM.Endpoint,
		SystemPrompt:  c.LLM.SystemPrompt,
		ProviderOrder: slices.Clone(c.LLM.ProviderOrder),
		SearchModel:   c.LLM.SearchModel,
		MapModel:      c.LLM.MapModel,
		MaxSteps:      c.LLM.MaxSteps,
		RootDir:       c.Settings.RootDir,
		SofficePath:   c.Settings.SofficePath,
		CacheDir:      c.Settings.CacheDir,
	}
}
