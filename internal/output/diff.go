package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/diff"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// Format selects how a diff is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON, FormatYAML:
		return Format(s), nil
	case "":
		return FormatText, nil
	default:
		return "", errs.Newf(errs.ErrInvalidInput, "unknown output format %q", s).
			WithHint("Use one of: text, json, yaml")
	}
}

// PackageEntry is the machine-readable form of a package.
type PackageEntry struct {
	Kind       string            `json:"kind" yaml:"kind"`
	Name       string            `json:"name" yaml:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Source     string            `json:"source,omitempty" yaml:"source,omitempty"`
}

// DiffCounts holds the sizes of the three diff categories.
type DiffCounts struct {
	Install   int `json:"install" yaml:"install"`
	Remove    int `json:"remove" yaml:"remove"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
}

// DiffDocument is the json/yaml rendering of a diff.
type DiffDocument struct {
	InSync    bool           `json:"in_sync" yaml:"in_sync"`
	Summary   DiffCounts     `json:"summary" yaml:"summary"`
	Install   []PackageEntry `json:"install" yaml:"install"`
	Remove    []PackageEntry `json:"remove" yaml:"remove"`
	Unchanged []PackageEntry `json:"unchanged" yaml:"unchanged"`
}

// NewDiffDocument converts d into its machine-readable form. Lists are
// sorted by identity and never nil.
func NewDiffDocument(d diff.Diff) DiffDocument {
	return DiffDocument{
		InSync: d.Empty(),
		Summary: DiffCounts{
			Install:   len(d.ToInstall),
			Remove:    len(d.ToRemove),
			Unchanged: len(d.Unchanged),
		},
		Install:   entries(d.ToInstall),
		Remove:    entries(d.ToRemove),
		Unchanged: entries(d.Unchanged),
	}
}

func entries(set brew.Set) []PackageEntry {
	out := make([]PackageEntry, 0, len(set))
	for _, pkg := range set.Sorted() {
		out = append(out, PackageEntry{
			Kind:       pkg.Kind.String(),
			Name:       pkg.Name,
			Attributes: pkg.Attributes,
			Source:     pkg.Source,
		})
	}
	return out
}

// RenderDiff writes d to w in the given format.
func RenderDiff(w io.Writer, d diff.Diff, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDiffDocument(d))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewDiffDocument(d)); err != nil {
			return fmt.Errorf("failed to encode diff: %w", err)
		}
		return enc.Close()
	default:
		renderDiffText(w, d)
		return nil
	}
}

func renderDiffText(w io.Writer, d diff.Diff) {
	if d.Empty() {
		fmt.Fprintf(w, "%s %d packages match the manifests.\n",
			paint(w, styleInstall, "In sync:"), len(d.Unchanged))
		return
	}

	t := NewTable(w)
	t.AppendHeader(table.Row{"", "Kind", "Name", "Details"})
	for _, pkg := range d.ToInstall.Sorted() {
		t.AppendRow(packageRow(paint(w, styleInstall, "+"), pkg))
	}
	for _, pkg := range d.ToRemove.Sorted() {
		t.AppendRow(packageRow(paint(w, styleRemove, "-"), pkg))
	}
	t.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, paint(w, styleMuted, d.Summary()))
}
