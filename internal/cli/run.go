package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thuasta/saiblo-worker/internal/client"
	"github.com/thuasta/saiblo-worker/internal/scheduler"
	"github.com/thuasta/saiblo-worker/internal/task"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the judge worker",
		Long: `Connects to the coordinator and serves build and judge tasks until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	deps, err := buildDeps(configPath())
	if err != nil {
		return err
	}

	sched := scheduler.New(deps.log)

	session := client.New(
		deps.cfg.Name,
		deps.cfg.WebsocketURL,
		sched,
		task.NewBuildTaskFactory(deps.fetcher, deps.builder, deps.buildReporter),
		task.NewJudgeTaskFactory(
			deps.cfg.GameHostImage,
			deps.fetcher,
			deps.builder,
			deps.buildReporter,
			deps.judger,
			deps.matchReporter,
		),
		deps.log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps.log.Info("worker starting", "name", deps.cfg.Name)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(ctx) })
	g.Go(func() error { return session.Start(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		deps.log.Info("worker stopped")

		// Leave no judge containers or networks behind on shutdown.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := deps.judger.ReapOrphans(cleanupCtx); err != nil {
			deps.log.Warn("shutdown cleanup failed", "error", err)
		}
		return nil
	}
	return err
}

// configPath resolves the --config flag, falling back to ./saiblo-worker.yaml
// when present.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat("saiblo-worker.yaml"); err == nil {
		return "saiblo-worker.yaml"
	}
	return ""
}
