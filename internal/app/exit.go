package app

import (
	"errors"

	"github.com/spf13/cobra"

	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailed     = 1
	ExitInvalid    = 2
	ExitProbeError = 3
)

// ErrOperationsFailed is returned when a run completed but at least one
// operation failed. The per-operation report has already been printed.
var ErrOperationsFailed = errors.New("one or more operations failed")

// ErrInterrupted is returned when a run was cancelled before every
// operation started.
var ErrInterrupted = errors.New("interrupted: remaining operations were skipped")

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrOperationsFailed) || errors.Is(err, ErrInterrupted) {
		return ExitFailed
	}
	switch errs.CodeOf(err) {
	case errs.ErrInvalidInput, errs.ErrManifestParse, errs.ErrManifestConflict,
		errs.ErrPlanValidation, errs.ErrSnapshot:
		return ExitInvalid
	case errs.ErrProbe:
		return ExitProbeError
	default:
		return ExitFailed
	}
}

// invalidUsage tags cobra flag and argument errors so they exit with
// ExitInvalid.
func invalidUsage(cmd *cobra.Command, err error) error {
	return errs.New(errs.ErrInvalidInput, err.Error()).
		WithHint("Run '%s --help' for usage", cmd.CommandPath())
}

// argsWithUsage wraps a cobra argument validator with invalidUsage.
func argsWithUsage(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return invalidUsage(cmd, err)
		}
		return nil
	}
}
