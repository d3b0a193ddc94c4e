// Package app implements the craftbrew command line.
package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/config"
	"github.com/blackwell-systems/craftbrew/internal/executor"
)

// globalOptions holds the persistent flags shared by every verb.
type globalOptions struct {
	system      string
	manifests   []string
	dryRun      bool
	force       bool
	verbosity   int
	quiet       bool
	configPath  string
	dbPath      string
	protect     []string
	noSnapshot  bool
	metricsFile string
}

// newClient builds the package manager client. Tests replace it.
var newClient = func(cfg *config.Config) brew.Client {
	return brew.NewCLI(
		brew.WithBrewPath(cfg.Brew.Path),
		brew.WithMasPath(cfg.Brew.MasPath),
		brew.WithAutoUpdate(cfg.Brew.AutoUpdate),
	)
}

// newConfirmer builds the confirmation prompt. Tests replace it.
var newConfirmer = func() executor.Confirmer {
	return executor.NewStdinConfirmer()
}

// NewRootCmd builds the craftbrew command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "craftbrew",
		Short: "Declarative Homebrew package management",
		Long: `craftbrew keeps the packages installed by Homebrew and the Mac App Store in
line with one or more manifest files.

Manifests list formulae, casks, taps and App Store apps. craftbrew diffs them
against the installed packages, shows the plan, and installs or removes
packages after confirmation. A snapshot of the installed packages is taken
before every destructive change so it can be rolled back.

Examples:
  # Show what differs from the default profile
  craftbrew diff

  # Install missing packages without removing anything
  craftbrew install

  # Make the system match the "work" profile exactly
  craftbrew sync --system work

  # Preview removal of unlisted packages
  craftbrew cleanup --dry-run

  # Undo the last change
  craftbrew rollback latest`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.system, "system", "", "configuration profile that selects the manifests")
	flags.StringSliceVar(&opts.manifests, "manifests", nil, "manifest files to use instead of the profile (comma separated)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "show the plan without changing anything")
	flags.BoolVar(&opts.force, "force", false, "skip the confirmation prompt for removals")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase verbosity (-v info, -vv debug, -vvv trace)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only log errors")
	flags.StringVar(&opts.configPath, "config", "", "config file (default: "+config.DefaultPath()+")")
	flags.StringVar(&opts.dbPath, "db", "", "history database path (default: from config)")
	flags.StringArrayVar(&opts.protect, "protect", nil, "never remove this package, as kind:name (repeatable)")
	flags.BoolVar(&opts.noSnapshot, "no-snapshot", false, "do not snapshot before destructive changes")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	root.SuggestionsMinimumDistance = 2
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalidUsage(cmd, err)
	})

	root.AddCommand(
		newInstallCmd(opts),
		newDiffCmd(opts),
		newSyncCmd(opts),
		newCleanupCmd(opts),
		newBackupCmd(opts),
		newRollbackCmd(opts),
		newSnapshotsCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
