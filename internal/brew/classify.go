package brew

import (
	"errors"
	"os/exec"
	"strings"
)

var lockMarkers = []string{
	"another active homebrew",
	"already locked",
	"has already locked",
	"process has already locked",
}

var transientMarkers = []string{
	"could not resolve host",
	"connection timed out",
	"connection refused",
	"connection reset",
	"operation timed out",
	"failed to connect",
	"curl: (6)",
	"curl: (7)",
	"curl: (28)",
	"curl: (35)",
	"curl: (56)",
	"network is unreachable",
	"temporary failure in name resolution",
	"download failed",
	"failed to download",
}

var notFoundMarkers = []string{
	"no available formula",
	"no available cask",
	"no formulae or casks found",
	"no such keg",
	"is not installed",
	"not installed",
	"no results found",
	"unknown app identifier",
	"no apps found",
}

var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"not writable",
}

// Classify maps a failed command's error and combined output to a
// FailureKind. Lock markers win over everything else because a locked
// database often surfaces alongside unrelated noise.
func Classify(err error, output string) FailureKind {
	if errors.Is(err, exec.ErrNotFound) {
		return FailureUnavailable
	}

	out := strings.ToLower(output)
	switch {
	case containsAny(out, lockMarkers):
		return FailureLocked
	case containsAny(out, permissionMarkers):
		return FailurePermission
	case containsAny(out, notFoundMarkers):
		return FailureNotFound
	case containsAny(out, transientMarkers):
		return FailureTransient
	default:
		return FailurePermanent
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
