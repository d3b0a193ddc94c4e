package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/craftbrew/internal/output"
	"github.com/blackwell-systems/craftbrew/internal/watcher"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the diff again whenever a manifest changes",
		Long: `Watch the manifest files and print the diff against the installed packages
each time one of them is saved. Nothing is installed or removed. Stop with
Ctrl-C.`,
		Example: `  craftbrew watch
  craftbrew watch --system work --debounce 2s`,
		Args: argsWithUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				paths, err := s.manifests()
				if err != nil {
					return err
				}

				w, err := watcher.New(paths,
					watcher.WithDebounce(debounce),
					watcher.WithLogger(s.logger.With().Str("component", "watcher").Logger()),
				)
				if err != nil {
					return invalidUsage(cmd, err)
				}

				out := cmd.OutOrStdout()
				show := func(ctx context.Context) error {
					_, _, d, err := s.engine.Compute(ctx, paths)
					if err != nil {
						fmt.Fprintf(out, "Error: %v\n", err)
						return err
					}
					return output.RenderDiff(out, d, output.FormatText)
				}

				_ = show(cmd.Context())
				fmt.Fprintf(out, "\nWatching %d manifests for changes (Ctrl-C to stop)...\n", len(paths))

				return w.Run(cmd.Context(), func(ctx context.Context, changed []string) error {
					fmt.Fprintf(out, "\n%s changed:\n", joinPaths(changed))
					return show(ctx)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "quiet period before the diff is recomputed")
	return cmd
}

func joinPaths(paths []string) string {
	if len(paths) == 1 {
		return paths[0]
	}
	return fmt.Sprintf("%s and %d more", paths[0], len(paths)-1)
}
