package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/citro80/app"
)

var triggerEvery time.Duration
var triggerLoop bool

var triggerCmd = &cobra.Command{
	Use:   "trigger-sync",
	Short: "Enqueue a kill-charging job for every armed vehicle",
	Long: "Enqueue a kill-charging job for every vehicle with an armed policy. " +
		"Runs once unless --loop is set, in which case it repeats every --interval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := time.Duration(0)
		if triggerLoop {
			interval = triggerEvery
			if interval <= 0 {
				interval = cfg.Scheduler.Interval()
			}
		}
		return withService(func(ctx context.Context, svc *app.Service) error {
			return svc.Trigger(ctx, interval)
		})
	},
}

func init() {
	triggerCmd.Flags().BoolVar(&triggerLoop, "loop", false, "keep running and trigger periodically")
	triggerCmd.Flags().DurationVar(&triggerEvery, "interval", 0, "trigger period with --loop (defaults to scheduler.interval_seconds)")
	rootCmd.AddCommand(triggerCmd)
}
