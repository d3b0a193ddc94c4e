package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/craftbrew/internal/engine"
	"github.com/blackwell-systems/craftbrew/internal/output"
	"github.com/blackwell-systems/craftbrew/internal/planner"
)

func newInstallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install packages listed in the manifests but missing from the system",
		Long: `Install every package declared in the manifests that is not installed.
Nothing is removed, so no confirmation is needed.`,
		Example: `  craftbrew install
  craftbrew install --system work
  craftbrew install --manifests ~/Brewfile,~/Brewfile.dev --dry-run`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, planner.VerbInstall)
		},
	}
}

func newSyncCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Make installed packages match the manifests exactly",
		Long: `Install missing packages and remove installed packages that no manifest
declares. Protected packages are never removed.

Removals are confirmed interactively unless --force is given. A snapshot is
taken before any removal so the change can be rolled back.`,
		Example: `  craftbrew sync --dry-run
  craftbrew sync --system laptop
  craftbrew sync --force --protect formula:python@3.12`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, planner.VerbSync)
		},
	}
}

func newCleanupCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove installed packages that no manifest declares",
		Long: `Remove installed packages that no manifest declares, without installing
anything. Protected packages are never removed.

Removals are confirmed interactively unless --force is given.`,
		Example: `  craftbrew cleanup --dry-run
  craftbrew cleanup --force`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, planner.VerbCleanup)
		},
	}
}

func newDiffCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show how installed packages differ from the manifests",
		Long: `Compare the manifests with the installed packages and print what sync would
install and remove. Nothing is changed.`,
		Example: `  craftbrew diff
  craftbrew diff --format json
  craftbrew diff --system work --format yaml`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			return withSession(cmd, opts, func(s *session) error {
				paths, err := s.manifests()
				if err != nil {
					return err
				}
				_, _, d, err := s.engine.Compute(cmd.Context(), paths)
				if err != nil {
					return err
				}
				s.metrics.RecordRun(string(planner.VerbDiff), "preview", 0)
				return output.RenderDiff(cmd.OutOrStdout(), d, f)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or yaml")
	return cmd
}

// runReconcile runs install, sync or cleanup and reports the outcome.
func runReconcile(cmd *cobra.Command, opts *globalOptions, verb planner.Verb) error {
	return withSession(cmd, opts, func(s *session) error {
		paths, err := s.manifests()
		if err != nil {
			return err
		}
		s.logger.Info().Str("verb", string(verb)).Strs("manifests", paths).Bool("dryRun", opts.dryRun).Msg("Reconciling")

		res, err := s.engine.Run(cmd.Context(), engine.Request{
			Verb:       verb,
			Manifests:  paths,
			DryRun:     opts.dryRun,
			Force:      opts.force,
			NoSnapshot: opts.noSnapshot,
		})
		if err != nil {
			return err
		}
		return report(cmd, res)
	})
}

// report prints the outcome of an applied plan. Previews were already
// rendered by the engine.
func report(cmd *cobra.Command, res *engine.Result) error {
	out := cmd.OutOrStdout()
	if res.Aborted {
		fmt.Fprintln(out, "Aborted: nothing was changed.")
		return nil
	}
	if res.Summary == nil {
		return nil
	}
	if res.Snapshot != nil {
		fmt.Fprintf(out, "Snapshot %s saved. Undo with: craftbrew rollback %s\n\n", res.Snapshot.ID, res.Snapshot.ID)
	}
	res.Summary.Render(out)
	if res.Summary.Cancelled {
		return ErrInterrupted
	}
	if res.Summary.Failed > 0 {
		return ErrOperationsFailed
	}
	return nil
}
