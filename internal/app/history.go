package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	errs "github.com/blackwell-systems/craftbrew/internal/errors"
	"github.com/blackwell-systems/craftbrew/internal/output"
	"github.com/blackwell-systems/craftbrew/internal/store"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent runs and their operations",
		Long: `List recent install, sync, cleanup and rollback runs, newest first. With a
run id (or a unique prefix of one), show each operation of that run.`,
		Example: `  craftbrew history
  craftbrew history --limit 50
  craftbrew history 3f9a1c2e`,
		Args: argsWithUsage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					runs, err := s.engine.History(limit)
					if err != nil {
						return err
					}
					output.RenderRuns(out, runs)
					return nil
				}

				run, err := findRun(s, args[0])
				if err != nil {
					return err
				}
				ops, err := s.engine.RunOperations(run.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Run %s: %s, %s\n\n", run.ID, run.Verb, run.Status)
				output.RenderOperations(out, ops)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	return cmd
}

// findRun resolves a full run id or a unique prefix of one.
func findRun(s *session, prefix string) (*store.Run, error) {
	runs, err := s.engine.History(0)
	if err != nil {
		return nil, err
	}

	var matches []*store.Run
	for _, r := range runs {
		if r.ID == prefix {
			return r, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, errs.Newf(errs.ErrInvalidInput, "no run matches %q", prefix).
			WithHint("Run 'craftbrew history' to list recent runs")
	default:
		return nil, errs.Newf(errs.ErrInvalidInput, "run id %q is ambiguous (%d matches)", prefix, len(matches)).
			WithHint("Use more characters of the run id")
	}
}
