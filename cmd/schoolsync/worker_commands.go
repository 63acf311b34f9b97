package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"schoolsync/internal/ipc"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage cache generations served by the gateway",
	}

	workerCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Precache the configured generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkerInstall()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Installed %s: %d cached, %d failed\n", resp.Generation, len(resp.Cached), len(resp.Failed))
				failed := make([]string, 0, len(resp.Failed))
				for asset := range resp.Failed {
					failed = append(failed, asset)
				}
				slices.Sort(failed)
				for _, asset := range failed {
					fmt.Fprintln(out, renderStatusLine(asset, statusWarn, resp.Failed[asset], false))
				}
				return nil
			})
		},
	})

	workerCmd.AddCommand(&cobra.Command{
		Use:   "activate",
		Short: "Serve the configured generation and delete older ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkerActivate()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Serving %s\n", resp.Generation)
				for _, name := range resp.Deleted {
					fmt.Fprintf(out, "Deleted %s\n", name)
				}
				return nil
			})
		},
	})

	workerCmd.AddCommand(&cobra.Command{
		Use:   "generations",
		Short: "List cache generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkerGenerations()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Generations) == 0 {
					fmt.Fprintln(out, "No cache generations")
					return nil
				}
				rows := make([][]string, 0, len(resp.Generations))
				for _, g := range resp.Generations {
					rows = append(rows, []string{
						g.Name,
						g.State,
						strconv.Itoa(g.Entries),
						humanize.Bytes(uint64(g.Bytes)),
						g.CreatedAt,
						valueOr(g.ActivatedAt, "-"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Generation", "State", "Entries", "Size", "Created", "Activated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	})

	return workerCmd
}
