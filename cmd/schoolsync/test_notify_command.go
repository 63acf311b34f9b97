package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"schoolsync/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				switch {
				case resp.Message != "":
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				case resp.Sent:
					fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
				}
				return nil
			})
		},
	}
}

func newWarningsCommand(ctx *commandContext) *cobra.Command {
	warningsCmd := &cobra.Command{
		Use:   "warnings",
		Short: "Manage blocking warnings raised by the daemon",
	}
	warningsCmd.AddCommand(&cobra.Command{
		Use:   "ack",
		Short: "Dismiss retained blocking warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WarningsAck()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %d warnings\n", resp.Acknowledged)
				return nil
			})
		},
	})
	return warningsCmd
}
