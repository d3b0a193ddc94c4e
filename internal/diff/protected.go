package diff

import (
	"sort"
	"strings"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// engineProtected are never removed: the package manager's own taps, the
// store CLI and the runtime dependencies of the package manager itself.
var engineProtected = []brew.Identity{
	{Kind: brew.Formula, Name: "mas"},
	{Kind: brew.Formula, Name: "git"},
	{Kind: brew.Formula, Name: "ca-certificates"},
	{Kind: brew.Formula, Name: "openssl@3"},
	{Kind: brew.Tap, Name: "homebrew/core"},
	{Kind: brew.Tap, Name: "homebrew/cask"},
	{Kind: brew.Tap, Name: "homebrew/bundle"},
}

// Protected is the set of identities that may never be removed.
type Protected struct {
	ids map[brew.Identity]struct{}
}

// NewProtected returns the engine's built-in set plus extra.
func NewProtected(extra ...brew.Identity) *Protected {
	p := &Protected{ids: make(map[brew.Identity]struct{}, len(engineProtected)+len(extra))}
	for _, id := range engineProtected {
		p.ids[id] = struct{}{}
	}
	for _, id := range extra {
		p.ids[id] = struct{}{}
	}
	return p
}

// ParseProtected builds a Protected set from "kind:name" strings, as given
// by the config file and the --protect flag.
func ParseProtected(specs ...string) (*Protected, error) {
	var ids []brew.Identity
	for _, spec := range specs {
		id, err := brew.ParseIdentity(spec)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrInvalidInput, "invalid protected package %q", spec).
				WithHint("use kind:name, for example formula:git or cask:firefox")
		}
		ids = append(ids, id)
	}
	return NewProtected(ids...), nil
}

// Contains reports whether id is protected. Matching is exact. A nil
// Protected still guards the built-in identities.
func (p *Protected) Contains(id brew.Identity) bool {
	if p == nil {
		return NewProtected().Contains(id)
	}
	_, ok := p.ids[id]
	return ok
}

// Identities returns the explicit members, sorted.
func (p *Protected) Identities() []brew.Identity {
	if p == nil {
		p = NewProtected()
	}
	out := make([]brew.Identity, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Filter returns set without its protected members.
func (p *Protected) Filter(set brew.Set) brew.Set {
	out := make(brew.Set, len(set))
	for id, pkg := range set {
		if !p.Contains(id) {
			out[id] = pkg
		}
	}
	return out
}

// ValidateRemovals rejects any removal of a protected identity.
func (p *Protected) ValidateRemovals(removals []brew.Identity) error {
	var blocked []string
	for _, id := range removals {
		if p.Contains(id) {
			blocked = append(blocked, id.String())
		}
	}
	if len(blocked) == 0 {
		return nil
	}
	sort.Strings(blocked)
	return errs.Newf(errs.ErrPlanValidation, "plan removes protected packages: %s", strings.Join(blocked, ", ")).
		WithHint("protected packages are required by the package manager and are never removed").
		WithDetail("packages", blocked)
}
