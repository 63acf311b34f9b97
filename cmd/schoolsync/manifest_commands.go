package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"schoolsync/internal/api"
	"schoolsync/internal/ipc"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Manage the offline reference snapshot",
	}

	manifestCmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Download a fresh manifest from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				info, err := client.ManifestRefresh()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, info)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Manifest refreshed")
				printManifestInfo(cmd.OutOrStdout(), info)
				return nil
			})
		},
	})

	manifestCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Describe the stored manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				info, err := client.ManifestShow()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, info)
				}
				printManifestInfo(cmd.OutOrStdout(), info)
				return nil
			})
		},
	})

	var limit int
	searchCmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Find records in the stored manifest by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ManifestSearch(query, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Matches) == 0 {
					fmt.Fprintf(out, "No records match %q\n", query)
					return nil
				}
				fmt.Fprintln(out, renderMatchTable(resp.Matches))
				return nil
			})
		},
	}
	searchCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of matches")
	manifestCmd.AddCommand(searchCmd)

	return manifestCmd
}

func printManifestInfo(out io.Writer, info *api.ManifestInfo) {
	fmt.Fprintf(out, "Records:  %d\n", info.Records)
	fmt.Fprintf(out, "Size:     %s\n", humanize.Bytes(uint64(info.Bytes)))
	fmt.Fprintf(out, "Fetched:  %s\n", valueOr(info.FetchedAt, "-"))
	fmt.Fprintf(out, "SHA-256:  %s\n", info.SHA256)
}

func renderMatchTable(matches []api.ManifestMatch) string {
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		id := ""
		if v, ok := m.Record["id"]; ok {
			id = fmt.Sprint(v)
		}
		rows = append(rows, []string{m.Name, id, strconv.Itoa(m.Score)})
	}
	return renderTable([]string{"Name", "ID", "Score"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}
