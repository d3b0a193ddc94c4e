// Package planner turns a Diff into an ordered, validated execution plan.
// The planner never executes anything.
package planner

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/diff"
)

// Mode says whether a plan is only shown or also applied.
type Mode int

const (
	ModePreview Mode = iota
	ModeApply
)

func (m Mode) String() string {
	if m == ModeApply {
		return "apply"
	}
	return "preview"
}

// Verb is the command a plan was built for.
type Verb string

const (
	VerbInstall  Verb = "install"
	VerbDiff     Verb = "diff"
	VerbSync     Verb = "sync"
	VerbCleanup  Verb = "cleanup"
	VerbRollback Verb = "rollback"
)

// Scope returns the operations the verb may perform.
func (v Verb) Scope() diff.Scope {
	switch v {
	case VerbInstall:
		return diff.ScopeInstalls
	case VerbCleanup:
		return diff.ScopeRemovals
	default:
		return diff.ScopeAll
	}
}

// Action is what an Operation does to a package.
type Action int

const (
	ActionInstall Action = iota
	ActionRemove
)

func (a Action) String() string {
	if a == ActionRemove {
		return "remove"
	}
	return "install"
}

// Operation is one client call.
type Operation struct {
	Action  Action
	Package brew.Package
}

func (o Operation) String() string {
	return o.Action.String() + " " + o.Package.Identity.String()
}

// Plan is an ordered list of operations plus its lifecycle state.
type Plan struct {
	ID        string
	CreatedAt time.Time
	Mode      Mode
	Verb      Verb
	Installs  []Operation
	Removals  []Operation
	// Force skips confirmation of destructive plans.
	Force bool

	state         State
	removalsFirst bool
}

// Option configures New.
type Option func(*Plan)

// WithRemovalsFirst runs the removal batch before the install batch.
func WithRemovalsFirst(v bool) Option {
	return func(p *Plan) { p.removalsFirst = v }
}

// WithForce marks the plan as confirmed up front.
func WithForce(v bool) Option {
	return func(p *Plan) { p.Force = v }
}

// WithID sets the plan id. The default is a random UUID.
func WithID(id string) Option {
	return func(p *Plan) { p.ID = id }
}

// WithCreatedAt sets the creation time.
func WithCreatedAt(t time.Time) Option {
	return func(p *Plan) { p.CreatedAt = t }
}

// New builds a plan for d restricted to the verb's scope. Installs and
// removals are each sorted by identity. The returned plan is Planned.
func New(d diff.Diff, mode Mode, verb Verb, opts ...Option) *Plan {
	p := &Plan{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Mode:      mode,
		Verb:      verb,
		state:     StateDraft,
	}
	for _, opt := range opts {
		opt(p)
	}

	scoped := d.Restrict(verb.Scope())
	for _, pkg := range scoped.ToInstall.Sorted() {
		p.Installs = append(p.Installs, Operation{Action: ActionInstall, Package: pkg})
	}
	for _, pkg := range scoped.ToRemove.Sorted() {
		p.Removals = append(p.Removals, Operation{Action: ActionRemove, Package: pkg})
	}

	p.state = StatePlanned
	return p
}

// Operations returns every operation in execution order.
func (p *Plan) Operations() []Operation {
	first, second := p.Installs, p.Removals
	if p.removalsFirst {
		first, second = p.Removals, p.Installs
	}
	out := make([]Operation, 0, len(first)+len(second))
	out = append(out, first...)
	return append(out, second...)
}

// Len is the number of operations.
func (p *Plan) Len() int { return len(p.Installs) + len(p.Removals) }

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool { return p.Len() == 0 }

// Destructive reports whether the plan removes anything.
func (p *Plan) Destructive() bool { return len(p.Removals) > 0 }

// RemovalsFirst reports the batch order.
func (p *Plan) RemovalsFirst() bool { return p.removalsFirst }

// Validate rejects plans that remove protected packages.
func (p *Plan) Validate(protected *diff.Protected) error {
	ids := make([]brew.Identity, len(p.Removals))
	for i, op := range p.Removals {
		ids[i] = op.Package.Identity
	}
	return protected.ValidateRemovals(ids)
}

func (p *Plan) String() string {
	return fmt.Sprintf("%s plan %s: %d installs, %d removals", p.Verb, p.ID, len(p.Installs), len(p.Removals))
}
