// Package output renders diffs, plans, snapshots and run history for the
// terminal.
//
// Tables use go-pretty with a light, borderless style. Colour is applied with
// lipgloss only when the destination writer is a terminal and NO_COLOR is
// unset, so output captured in files or tests is plain text.
package output

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/craftbrew/internal/brew"
)

var (
	styleInstall = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"})
	styleRemove  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"})
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"})
	styleHeading = lipgloss.NewStyle().Bold(true)
)

// writerIsTTY reports whether w is a file attached to a terminal.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// ColorEnabled reports whether colour codes should be written to w.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return writerIsTTY(w)
}

func paint(w io.Writer, style lipgloss.Style, s string) string {
	if !ColorEnabled(w) {
		return s
	}
	return style.Render(s)
}

// NewTable returns a table writer that renders to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = false
	style.Options.SeparateHeader = true
	t.SetStyle(style)
	return t
}

// FormatAttributes renders attributes as "k=v, k=v" in key order.
func FormatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return strings.Join(parts, ", ")
}

func packageRow(marker string, pkg brew.Package) table.Row {
	return table.Row{marker, pkg.Kind.String(), pkg.Name, FormatAttributes(pkg.Attributes)}
}
