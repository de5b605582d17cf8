package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the update cycle on a schedule",
	Long: `Run the update cycle immediately and then every update_interval until
interrupted. With --once a single cycle is run and summarized.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		keeper, err := openKeeper(ctx, false)
		if err != nil {
			return err
		}
		defer keeper.Close()

		if runOnce {
			report, err := keeper.RunCycle(ctx)
			if err != nil {
				return err
			}
			for _, res := range report.Results {
				line := fmt.Sprintf("%-12s %-10s", res.LotID, res.Outcome)
				if res.ProposedPrice != nil {
					line += fmt.Sprintf(" %.2f", *res.ProposedPrice)
				}
				if res.Reason != "" {
					line += " " + string(res.Reason)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published=%d unchanged=%d failed=%d in %s\n",
				report.Published, report.Unchanged, report.Failed, report.Duration)
			return nil
		}

		if err := keeper.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
}
