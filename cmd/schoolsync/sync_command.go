package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"schoolsync/internal/ipc"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes to the backend now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				report, err := client.SyncNow()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, report.Summary)
				if report.Skipped {
					return nil
				}
				rows := [][]string{
					{"Synced", fmt.Sprint(report.Synced)},
					{"Dropped", fmt.Sprint(report.Dropped)},
					{"Orphaned", fmt.Sprint(report.Orphaned)},
					{"Remaining", fmt.Sprint(report.Remaining)},
				}
				fmt.Fprintln(out, renderTable([]string{"Outcome", "Entries"}, rows, []columnAlignment{alignLeft, alignRight}))
				if report.StopReason != "" {
					fmt.Fprintf(out, "Stopped at entry %d: %s\n", report.StoppedAt, report.StopReason)
				}
				return nil
			})
		},
	}
}
