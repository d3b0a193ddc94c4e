// Package manifest parses declarative package manifests and merges them into
// the desired package state.
//
// A manifest is line oriented. Each declaration names a kind, a quoted
// package name and optional attributes:
//
//	tap "acme/tools", url: "https://example.com/acme/tools.git"
//	brew "git"
//	brew "node@20", version: "20", link: true
//	cask "firefox", greedy: true
//	mas "Xcode", id: 497799835
//
// Blank lines and # comments are ignored.
package manifest

import (
	"github.com/opencontainers/go-digest"

	"github.com/blackwell-systems/craftbrew/internal/brew"
)

// Declaration is one parsed manifest line.
type Declaration struct {
	Package brew.Package
	Line    int
}

// Manifest is the ordered list of declarations read from one source.
type Manifest struct {
	Path         string
	Declarations []Declaration
}

// Set returns the manifest's packages. Duplicate identities keep the last
// declaration; conflicts are reported by Merge, not here.
func (m *Manifest) Set() brew.Set {
	s := make(brew.Set, len(m.Declarations))
	for _, d := range m.Declarations {
		s.Add(d.Package)
	}
	return s
}

// DesiredState is the merged package set of every loaded manifest.
type DesiredState struct {
	Packages  brew.Set
	Manifests []string
	// Hash is a content digest of the merged declarations. It does not
	// depend on manifest paths or declaration order.
	Hash digest.Digest
}
