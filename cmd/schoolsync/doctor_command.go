package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"schoolsync/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, databases and backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			results = append(results, preflight.CheckNotificationsFromConfig(cfg), preflight.CheckDaemon(cmd.Context(), cfg))

			if ctx.jsonOutput() {
				return writeJSON(cmd, results)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printSection(out, "Preflight", colorize)
			for _, result := range results {
				if result.Name == "Daemon" && !result.Passed {
					fmt.Fprintln(out, renderStatusLine(result.Name, statusInfo, result.Detail, colorize))
					continue
				}
				fmt.Fprintln(out, resultLine(result, colorize))
			}

			failed := 0
			for _, r := range preflight.Failed(results) {
				if r.Name != "Daemon" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}
