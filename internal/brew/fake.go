package brew

import (
	"context"
	"fmt"
	"sync"
)

// Call records one client invocation made against a FakeClient.
type Call struct {
	Op       string
	Identity Identity
}

// FakeClient is a deterministic in-memory package database for tests.
type FakeClient struct {
	mu        sync.Mutex
	installed Set
	calls     []Call
	failures  map[Call][]error
	listErr   map[Kind]error
	locked    bool

	// OnCall, when set, runs after a mutation has been applied. Tests use it
	// to cancel a context mid-batch.
	OnCall func(Call)
}

// NewFakeClient creates a fake with the given packages installed.
func NewFakeClient(installed ...Package) *FakeClient {
	return &FakeClient{
		installed: NewSet(installed...),
		failures:  make(map[Call][]error),
		listErr:   make(map[Kind]error),
	}
}

// FailNext queues errors returned by the next calls of op ("install" or
// "remove") for id, one per call. Once drained the call succeeds.
func (f *FakeClient) FailNext(op string, id Identity, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := Call{Op: op, Identity: id}
	f.failures[key] = append(f.failures[key], errs...)
}

// FailAlways makes every call of op for id fail with a permanent error.
func (f *FakeClient) FailAlways(op string, id Identity) {
	errs := make([]error, 64)
	for i := range errs {
		errs[i] = &CommandError{Op: op, Target: id.String(), Kind: FailureNotFound,
			Output: fmt.Sprintf("Error: No available formula with the name %q", id.Name)}
	}
	f.FailNext(op, id, errs...)
}

// FailList makes List fail for kind.
func (f *FakeClient) FailList(kind Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr[kind] = err
}

// SetLocked simulates another package manager process holding the lock.
func (f *FakeClient) SetLocked(locked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = locked
}

// Installed returns a copy of the installed set.
func (f *FakeClient) Installed() Set {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed.Union(nil)
}

// Calls returns the mutations attempted so far, in order.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeClient) lockErr(op, target string) error {
	return &CommandError{Op: op, Target: target, Kind: FailureLocked,
		Output: "Error: Another active Homebrew process is already using the database"}
}

// List returns the installed packages of one kind.
func (f *FakeClient) List(ctx context.Context, kind Kind) ([]Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.locked {
		return nil, f.lockErr("list", kind.String())
	}
	if err := f.listErr[kind]; err != nil {
		return nil, err
	}
	return f.installed.OfKind(kind).Sorted(), nil
}

// Install marks pkg installed unless a failure is queued.
func (f *FakeClient) Install(ctx context.Context, pkg Package) error {
	return f.mutate(ctx, "install", pkg)
}

// Remove marks pkg uninstalled unless a failure is queued.
func (f *FakeClient) Remove(ctx context.Context, pkg Package) error {
	return f.mutate(ctx, "remove", pkg)
}

func (f *FakeClient) mutate(ctx context.Context, op string, pkg Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	call := Call{Op: op, Identity: pkg.Identity}
	f.mu.Lock()
	f.calls = append(f.calls, call)

	if f.locked {
		f.mu.Unlock()
		return f.lockErr(op, pkg.String())
	}

	if queued := f.failures[call]; len(queued) > 0 {
		f.failures[call] = queued[1:]
		f.mu.Unlock()
		return queued[0]
	}

	switch op {
	case "install":
		installed := pkg
		installed.Source = ""
		f.installed[pkg.Identity] = installed
	case "remove":
		if !f.installed.Contains(pkg.Identity) {
			f.mu.Unlock()
			return &CommandError{Op: op, Target: pkg.String(), Kind: FailureNotFound,
				Output: fmt.Sprintf("Error: No such keg: %s", pkg.Name)}
		}
		delete(f.installed, pkg.Identity)
	}
	hook := f.OnCall
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return nil
}

var _ Client = (*FakeClient)(nil)
