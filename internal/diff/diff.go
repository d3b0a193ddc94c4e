// Package diff computes the difference between desired and installed
// package sets and guards protected packages from removal.
package diff

import (
	"fmt"

	"github.com/blackwell-systems/craftbrew/internal/brew"
)

// Scope narrows a Diff to the operations one command may perform.
type Scope int

const (
	// ScopeAll keeps installs and removals.
	ScopeAll Scope = iota
	// ScopeInstalls keeps installs only.
	ScopeInstalls
	// ScopeRemovals keeps removals only.
	ScopeRemovals
)

func (s Scope) String() string {
	switch s {
	case ScopeInstalls:
		return "installs"
	case ScopeRemovals:
		return "removals"
	default:
		return "all"
	}
}

// Diff is the result of comparing desired with actual state. Values are
// never mutated after Compute.
type Diff struct {
	ToInstall brew.Set
	ToRemove  brew.Set
	Unchanged brew.Set
}

// Compute returns
//
//	ToInstall = desired - actual
//	ToRemove  = (actual - desired) - protected - dependencies
//	Unchanged = desired ∩ actual
//
// Identity comparison is case and kind sensitive. Installs and unchanged
// entries carry the desired attributes; removals carry the actual ones.
// Installed packages flagged as dependencies satisfy declarations but are
// left to the package manager otherwise.
func Compute(desired, actual brew.Set, protected *Protected) Diff {
	return Diff{
		ToInstall: desired.Minus(actual),
		ToRemove:  protected.Filter(actual.Minus(desired).Removable()),
		Unchanged: desired.Intersect(actual),
	}
}

// Restrict returns a copy of d limited to scope. Dropped operations are not
// moved to Unchanged.
func (d Diff) Restrict(scope Scope) Diff {
	out := Diff{
		ToInstall: d.ToInstall,
		ToRemove:  d.ToRemove,
		Unchanged: d.Unchanged,
	}
	switch scope {
	case ScopeInstalls:
		out.ToRemove = brew.Set{}
	case ScopeRemovals:
		out.ToInstall = brew.Set{}
	}
	return out
}

// Empty reports whether there is nothing to install or remove.
func (d Diff) Empty() bool {
	return len(d.ToInstall) == 0 && len(d.ToRemove) == 0
}

// Summary renders the counts, for example "2 to install, 1 to remove, 5 unchanged".
func (d Diff) Summary() string {
	return fmt.Sprintf("%d to install, %d to remove, %d unchanged",
		len(d.ToInstall), len(d.ToRemove), len(d.Unchanged))
}
