// interactive/printer.go
package interactive

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/sammcj/deskchat/events"
	"github.com/sammcj/deskchat/types"
)

const maxResultPreview = 200

// Printer renders UI events to a terminal. It implements events.Emitter.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	user      lipgloss.Style
	assistant lipgloss.Style
	tool      lipgloss.Style
	muted     lipgloss.Style
	failure   lipgloss.Style
}

// NewPrinter creates a printer writing to out. Colours are used only when
// out is a terminal that supports them.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:       out,
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistant: r.NewStyle().Foreground(lipgloss.Color("10")),
		tool:      r.NewStyle().Foreground(lipgloss.Color("11")),
		muted:     r.NewStyle().Faint(true),
		failure:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// Emit implements events.Emitter
func (p *Printer) Emit(e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var line string
	switch e.Type {
	case events.TypeStart:
		line = p.muted.Render("--- thinking ---")
	case events.TypeEnd:
		line = p.muted.Render("--- done ---")
	case events.TypeMessage:
		label := p.assistant.Render("assistant")
		if e.Role == "user" {
			label = p.user.Render("you")
		}
		line = fmt.Sprintf("%s [%d]: %s", label, e.ID, renderContent(e.Content))
	case events.TypeToolCall:
		line = p.tool.Render(fmt.Sprintf("-> %s(%s)", e.ToolName, e.ToolArgs)) +
			p.muted.Render(" "+e.ToolCallID)
	case events.TypeToolDone:
		line = p.tool.Render("<- "+e.ToolCallID) + " " + p.muted.Render(truncate(e.ToolResult, maxResultPreview))
	case events.TypeError:
		line = p.failure.Render("error: " + e.Message)
	default:
		return fmt.Errorf("unknown event type: %q", e.Type)
	}

	_, err := fmt.Fprintln(p.out, line)
	return err
}

func renderContent(parts []types.Content) string {
	var out []string
	for _, c := range parts {
		switch c.Type {
		case types.ContentText:
			out = append(out, c.Text)
		case types.ContentImageURL:
			out = append(out, "[image]")
		case types.ContentFile:
			out = append(out, fmt.Sprintf("[file %s]", c.File.Filename))
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
