package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"concord/internal/app/bootstrap"
	"concord/internal/platform/config"
)

func newRootCommand() *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:           "concord-worker",
		Short:         "Background jobs for the consensus engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before the environment (default .env, .env.local)")

	root.AddCommand(newRunCommand(&envFiles), newSweepCommand(&envFiles))
	return root
}

func newRunCommand(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep expired subjects and relay status events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd, *envFiles)
			if err != nil {
				return err
			}
			defer closeApp(app)
			return app.Run(cmd.Context())
		},
	}
}

func newSweepCommand(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and one outbox relay pass, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd, *envFiles)
			if err != nil {
				return err
			}
			defer closeApp(app)
			expired, published, err := app.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d published=%d\n", expired, published)
			return nil
		},
	}
}

func buildApp(cmd *cobra.Command, envFiles []string) (*bootstrap.WorkerApp, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := bootstrap.BuildWorker(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap worker: %w", err)
	}
	return app, nil
}

func closeApp(app *bootstrap.WorkerApp) {
	if err := app.Close(); err != nil {
		slog.Default().Warn("worker shutdown close failed",
			"event", "worker_close_failed",
			"module", "cmd/worker",
			"layer", "platform",
			"error", err.Error(),
		)
	}
}
