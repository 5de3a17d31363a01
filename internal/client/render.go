package client

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/joeycumines/behaviord/internal/behavior"
)

// Styles colors rendered telemetry by state.
type Styles struct {
	Name   lipgloss.Style
	Kind   lipgloss.Style
	States map[behavior.State]lipgloss.Style
}

// DefaultStyles returns the inspector palette.
func DefaultStyles() Styles {
	return Styles{
		Name: lipgloss.NewStyle().Bold(true),
		Kind: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		States: map[behavior.State]lipgloss.Style{
			behavior.StateCursor:  lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
			behavior.StateRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
			behavior.StateSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			behavior.StateFailure: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		},
	}
}

// Render draws a snapshot as an indented tree, one node per line. A nil
// styles pointer renders plain text.
func Render(t *behavior.Telemetry, styles *Styles) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	t.Walk(func(n *behavior.Telemetry, depth int) bool {
		icon, kind := "?", "unknown"
		if n.Data != nil {
			if info, ok := behavior.Describe(n.Data.Kind()); ok {
				icon, kind = info.Icon, info.Name
			}
		}
		name, state := n.Name, n.State.String()
		label := fmt.Sprintf("(%s)", kind)
		if styles != nil {
			name = styles.Name.Render(name)
			label = styles.Kind.Render(label)
			if s, ok := styles.States[n.State]; ok {
				state = s.Render(state)
			}
		}
		fmt.Fprintf(&b, "%s%s %s %s %s\n", strings.Repeat("  ", depth), icon, name, label, state)
		return true
	})
	return b.String()
}
