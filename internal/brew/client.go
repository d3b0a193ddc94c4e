package brew

import (
	"context"
	"errors"
	"fmt"
)

// Client is the port to the real package manager. The package database is a
// singleton outside craftbrew's control and must only be touched through it.
type Client interface {
	// List returns the installed packages of one kind.
	List(ctx context.Context, kind Kind) ([]Package, error)
	// Install installs a single package.
	Install(ctx context.Context, pkg Package) error
	// Remove uninstalls a single package.
	Remove(ctx context.Context, pkg Package) error
}

// FailureKind classifies a failed package manager call.
type FailureKind int

const (
	// FailurePermanent will not succeed on retry (bad input, unknown package).
	FailurePermanent FailureKind = iota
	// FailureTransient is plausibly a network hiccup.
	FailureTransient
	// FailureLocked means another package manager process holds the lock.
	FailureLocked
	// FailureNotFound means the package does not exist or is not installed.
	FailureNotFound
	// FailurePermission means the call was denied by the OS.
	FailurePermission
	// FailureUnavailable means the package manager binary could not be run.
	FailureUnavailable
)

func (f FailureKind) String() string {
	switch f {
	case FailureTransient:
		return "transient"
	case FailureLocked:
		return "locked"
	case FailureNotFound:
		return "not found"
	case FailurePermission:
		return "permission denied"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "permanent"
	}
}

// CommandError is returned by Client implementations when a package manager
// call fails.
type CommandError struct {
	Op      string // "list", "install" or "remove"
	Target  string
	Kind    FailureKind
	Output  string
	Wrapped error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed (%s)", e.Op, e.Target, e.Kind)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	if e.Output != "" {
		msg += fmt.Sprintf(" (output: %s)", e.Output)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// Retryable reports whether the failure is worth retrying.
func (e *CommandError) Retryable() bool {
	return e.Kind == FailureTransient || e.Kind == FailureLocked
}

// FailureOf returns the failure kind carried by err, or FailurePermanent.
func FailureOf(err error) FailureKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return FailurePermanent
}
