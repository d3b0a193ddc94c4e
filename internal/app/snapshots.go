package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/craftbrew/internal/engine"
	"github.com/blackwell-systems/craftbrew/internal/output"
)

func newBackupCmd(opts *globalOptions) *cobra.Command {
	var (
		outputPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the installed packages",
		Long: `Record the currently installed packages as a snapshot that rollback can
restore. With --output, a copy of the snapshot is also written to that file.`,
		Example: `  craftbrew backup
  craftbrew backup --reason "before upgrading to macOS 15"
  craftbrew backup --output ~/Dropbox/packages.json`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				paths, err := s.manifests()
				if err != nil {
					return err
				}
				snap, err := s.engine.Backup(cmd.Context(), reason, outputPath, paths)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Snapshot %s saved (%d packages).\n", snap.ID, len(snap.Packages))
				if outputPath != "" {
					fmt.Fprintf(out, "Exported to %s\n", outputPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "also write the snapshot to this file")
	cmd.Flags().StringVar(&reason, "reason", "", "note stored with the snapshot")
	return cmd
}

func newRollbackCmd(opts *globalOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "rollback [snapshot-id | latest]",
		Short: "Restore the packages recorded in a snapshot",
		Long: `Make the installed packages match a snapshot: packages it records are
installed and packages installed since are removed. Protected packages are
never removed.

The current state is snapshotted first, so a rollback can itself be rolled
back. Without an argument the latest snapshot is used.`,
		Example: `  craftbrew rollback --list
  craftbrew rollback latest --dry-run
  craftbrew rollback 20261017-091500-3f9a1c2e`,
		Args: argsWithUsage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				if list {
					snaps, err := s.engine.Snapshots().List()
					if err != nil {
						return err
					}
					output.RenderSnapshots(cmd.OutOrStdout(), snaps)
					return nil
				}

				id := ""
				if len(args) == 1 {
					id = args[0]
				}
				paths, err := s.manifests()
				if err != nil {
					return err
				}
				res, err := s.engine.Rollback(cmd.Context(), id, engine.Request{
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
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list available snapshots")
	return cmd
}

func newSnapshotsCmd(opts *globalOptions) *cobra.Command {
	var prune int

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots",
		Long: `List snapshots, newest first. With --prune N, delete all but the N newest
snapshot files; their index entries are kept and marked pruned.`,
		Example: `  craftbrew snapshots
  craftbrew snapshots --prune 10`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("prune") && prune < 1 {
				return invalidUsage(cmd, fmt.Errorf("--prune must be at least 1, got %d", prune))
			}
			return withSession(cmd, opts, func(s *session) error {
				out := cmd.OutOrStdout()
				if prune > 0 {
					pruned, err := s.engine.Snapshots().Prune(prune)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Pruned %d snapshots.\n\n", len(pruned))
				}
				snaps, err := s.engine.Snapshots().List()
				if err != nil {
					return err
				}
				output.RenderSnapshots(out, snaps)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&prune, "prune", 0, "keep only the N newest snapshots")
	return cmd
}
