package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/citro80/app"
)

var serveOpts struct {
	inlineWorker bool
	trigger      time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *app.Service) error {
			return svc.Serve(ctx, app.ServeOptions{
				InlineWorker:    serveOpts.inlineWorker,
				TriggerInterval: serveOpts.trigger,
			})
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *app.Service) error {
			return svc.Work(ctx)
		})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveOpts.inlineWorker, "inline-worker", false, "consume jobs in the server process")
	serveCmd.Flags().DurationVar(&serveOpts.trigger, "trigger-interval", 0, "run trigger-sync in-process at this interval (0 disables)")
	rootCmd.AddCommand(serveCmd, workerCmd)
}
