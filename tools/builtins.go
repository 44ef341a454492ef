// tools/builtins.go
package tools

import (
	"time"

	"github.com/sammcj/deskchat/config"
)

// Deps are the collaborators the built-in tools need
type Deps struct {
	Settings  config.SettingsProvider
	Completer Completer
	// FetchAllowList enables fetch_page for URLs with these prefixes
	FetchAllowList []string
	FetchTimeout   time.Duration
	DiceDelay      time.Duration
}

// RegisterBuiltins registers the built-in tools in catalog order.
// Model-backed tools are skipped without a Completer, fetch_page without an
// allowlist.
func RegisterBuiltins(r *Registry, deps Deps) error {
	loader := NewFileLoader(deps.Settings)

	all := NewFileSystemTool(deps.Settings).Tools()
	all = append(all,
		loader.Tool(),
		MakeFileTool(),
		RollDiceTool(deps.DiceDelay),
		NewTimeTool().Tool(),
		NewExtractor(deps.Settings).Tool(),
	)
	if deps.Completer != nil {
		all = append(all, NewModelTools(deps.Settings, deps.Completer, loader).Tools()...)
	}
	if len(deps.FetchAllowList) > 0 {
		timeout := deps.FetchTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		all = append(all, NewHTTPTool(deps.FetchAllowList, timeout).Tool())
	}
	return r.Register(all...)
}
