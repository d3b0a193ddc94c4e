package planner

import (
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// State is a plan's lifecycle position.
type State int

const (
	StateDraft State = iota
	StatePlanned
	StatePreviewed
	StateAwaitingConfirmation
	StateExecuting
	StateCompleted
	StateAborted
)

var stateNames = map[State]string{
	StateDraft:                "draft",
	StatePlanned:              "planned",
	StatePreviewed:            "previewed",
	StateAwaitingConfirmation: "awaiting-confirmation",
	StateExecuting:            "executing",
	StateCompleted:            "completed",
	StateAborted:              "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePreviewed || s == StateCompleted || s == StateAborted
}

var transitions = map[State][]State{
	StateDraft:                {StatePlanned},
	StatePlanned:              {StatePreviewed, StateAwaitingConfirmation, StateExecuting, StateAborted},
	StateAwaitingConfirmation: {StateExecuting, StateAborted},
	StateExecuting:            {StateCompleted},
}

// State returns the current state.
func (p *Plan) State() State { return p.state }

// Transition moves the plan to the given state. Destructive plans may only
// skip confirmation when forced.
func (p *Plan) Transition(to State) error {
	allowed := false
	for _, s := range transitions[p.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if allowed && p.state == StatePlanned && to == StateExecuting && p.Destructive() && !p.Force {
		allowed = false
	}
	if allowed && to == StateExecuting && p.Mode != ModeApply {
		allowed = false
	}
	if !allowed {
		return errs.Newf(errs.ErrPlanValidation, "plan %s cannot move from %s to %s", p.ID, p.state, to).
			WithDetail("plan", p.ID)
	}
	p.state = to
	return nil
}
