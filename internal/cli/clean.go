package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove all cached artifacts",
		Long: `Removes cached agent code tarballs, every image in the worker's
repository, any leftover judge containers and networks, and all persisted
replays and results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(configPath())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if err := deps.fetcher.Clean(); err != nil {
				return err
			}
			if err := deps.builder.Clean(ctx); err != nil {
				return err
			}
			if err := deps.judger.Clean(ctx); err != nil {
				return err
			}

			deps.log.Info("worker environment cleaned")
			return nil
		},
	}
}
