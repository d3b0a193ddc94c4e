package brew

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Kind distinguishes installable units.
type Kind int

const (
	Formula Kind = iota
	Cask
	Tap
	StoreApp
)

// AllKinds lists every kind in probe order.
var AllKinds = []Kind{Tap, Formula, Cask, StoreApp}

// String returns the canonical lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Formula:
		return "formula"
	case Cask:
		return "cask"
	case Tap:
		return "tap"
	case StoreApp:
		return "storeapp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts canonical kind names and the Brewfile keywords
// (brew, cask, tap, mas).
func ParseKind(s string) (Kind, error) {
	switch s {
	case "formula", "brew":
		return Formula, nil
	case "cask":
		return Cask, nil
	case "tap":
		return Tap, nil
	case "storeapp", "mas":
		return StoreApp, nil
	default:
		return 0, fmt.Errorf("unknown package kind %q (expected brew, cask, tap or mas)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Identity is the equality key of a package. Two packages with the same name
// but a different kind are distinct.
type Identity struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

// String renders the identity as "kind:name".
func (id Identity) String() string {
	return id.Kind.String() + ":" + id.Name
}

// ParseIdentity parses "kind:name". A missing kind prefix means formula.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, fmt.Errorf("empty package identity")
	}
	kindStr, name, found := strings.Cut(s, ":")
	if !found {
		return Identity{Kind: Formula, Name: s}, nil
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return Identity{}, err
	}
	if name == "" {
		return Identity{}, fmt.Errorf("package identity %q has an empty name", s)
	}
	return Identity{Kind: kind, Name: name}, nil
}

// Less orders identities by kind, then name.
func (id Identity) Less(other Identity) bool {
	if id.Kind != other.Kind {
		return id.Kind < other.Kind
	}
	return id.Name < other.Name
}

// Package is a declared or installed package.
type Package struct {
	Identity
	// Attributes holds kind-specific options such as a pinned version,
	// the Mac App Store id or a tap URL.
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// Source is the manifest that declared the package. Empty for probed packages.
	Source string `json:"-" yaml:"-"`
	// Dependency marks an installed package that was only pulled in by
	// another package. It counts as installed but is never a removal
	// candidate.
	Dependency bool `json:"-" yaml:"-"`
}

// NewPackage creates a package without attributes.
func NewPackage(kind Kind, name string) Package {
	return Package{Identity: Identity{Kind: kind, Name: name}}
}

// Attr returns the named attribute or "".
func (p Package) Attr(key string) string {
	return p.Attributes[key]
}

// SameAttributes reports whether both packages carry identical attributes.
func (p Package) SameAttributes(other Package) bool {
	if len(p.Attributes) != len(other.Attributes) {
		return false
	}
	return maps.Equal(p.Attributes, other.Attributes)
}

// Set is a set of packages keyed by identity.
type Set map[Identity]Package

// NewSet builds a set from packages. Later duplicates replace earlier ones.
func NewSet(pkgs ...Package) Set {
	s := make(Set, len(pkgs))
	for _, p := range pkgs {
		s[p.Identity] = p
	}
	return s
}

// Add inserts p.
func (s Set) Add(p Package) {
	s[p.Identity] = p
}

// Contains reports whether id is in the set.
func (s Set) Contains(id Identity) bool {
	_, ok := s[id]
	return ok
}

// Minus returns the packages of s whose identity is not in other.
func (s Set) Minus(other Set) Set {
	out := make(Set)
	for id, p := range s {
		if !other.Contains(id) {
			out[id] = p
		}
	}
	return out
}

// Intersect returns the packages of s whose identity is also in other.
// Values are taken from s.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for id, p := range s {
		if other.Contains(id) {
			out[id] = p
		}
	}
	return out
}

// Union returns a new set with the packages of both sets. Entries of other
// win on identity collisions.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	maps.Copy(out, s)
	maps.Copy(out, other)
	return out
}

// Sorted returns the packages ordered by kind, then name.
func (s Set) Sorted() []Package {
	out := make([]Package, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.Less(out[j].Identity)
	})
	return out
}

// Identities returns the sorted identities of the set.
func (s Set) Identities() []Identity {
	pkgs := s.Sorted()
	ids := make([]Identity, len(pkgs))
	for i, p := range pkgs {
		ids[i] = p.Identity
	}
	return ids
}

// Removable returns the packages of s not flagged as dependencies.
func (s Set) Removable() Set {
	out := make(Set, len(s))
	for id, p := range s {
		if !p.Dependency {
			out[id] = p
		}
	}
	return out
}

// OfKind returns the subset of s with the given kind.
func (s Set) OfKind(kind Kind) Set {
	out := make(Set)
	for id, p := range s {
		if id.Kind == kind {
			out[id] = p
		}
	}
	return out
}

// Equal reports whether both sets hold the same identities.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}
