package brew

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name   string
		err    error
		output string
		want   FailureKind
	}{
		{"lock held", exitErr, "Error: Another active Homebrew process is already using /opt/homebrew", FailureLocked},
		{"lock file", exitErr, "Error: A `brew install` process has already locked /opt/homebrew/var/homebrew/locks/jq.formula.lock", FailureLocked},
		{"dns failure", exitErr, "curl: (6) Could not resolve host: ghcr.io", FailureTransient},
		{"timeout", exitErr, "curl: (28) Operation timed out after 30000 milliseconds", FailureTransient},
		{"unknown formula", exitErr, "Error: No available formula with the name \"jqq\".", FailureNotFound},
		{"unknown cask", exitErr, "Error: Cask 'nope' is unavailable: No Cask with this name exists.\nError: No available cask", FailureNotFound},
		{"not installed", exitErr, "Error: No such keg: /opt/homebrew/Cellar/htop", FailureNotFound},
		{"permission", exitErr, "Error: Permission denied @ apply2files - /usr/local/lib", FailurePermission},
		{"binary missing", fmt.Errorf("run: %w", exec.ErrNotFound), "", FailureUnavailable},
		{"other", exitErr, "Error: something else went wrong", FailurePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.output))
		})
	}
}

func TestCommandErrorRetryable(t *testing.T) {
	for kind, want := range map[FailureKind]bool{
		FailureTransient:   true,
		FailureLocked:      true,
		FailureNotFound:    false,
		FailurePermission:  false,
		FailurePermanent:   false,
		FailureUnavailable: false,
	} {
		err := &CommandError{Op: "install", Target: "formula:jq", Kind: kind}
		assert.Equal(t, want, err.Retryable(), kind.String())
	}
}

func TestFailureOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", &CommandError{Kind: FailureLocked})
	assert.Equal(t, FailureLocked, FailureOf(err))
	assert.Equal(t, FailurePermanent, FailureOf(errors.New("plain")))
}
