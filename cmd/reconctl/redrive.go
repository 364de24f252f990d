package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/app"
)

func redriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redrive [event-id]",
		Short: "Replay failed inbox events",
		Long: `Without arguments, runs one redrive pass over retryable inbox events.
With an event id, replays that event whatever its status or attempt count.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd, func(ctx context.Context, deps *app.Dependencies, logger *zap.Logger) error {
				out := cmd.OutOrStdout()

				if len(args) == 1 {
					result, err := deps.Redriver.Redrive(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, formatResult(result))
					if result.Err != nil {
						return fmt.Errorf("event %s failed again", args[0])
					}
					return nil
				}

				passCtx, cancel := deps.Timeouts.RedriveContext(ctx)
				defer cancel()

				summary, err := deps.Redriver.RunOnce(passCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "replayed %d: %d succeeded, %d failed\n",
					summary.Replayed, summary.Succeeded, summary.Failed)
				return nil
			})
		},
	}
}
