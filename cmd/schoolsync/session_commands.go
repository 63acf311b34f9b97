package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"schoolsync/internal/api"
	"schoolsync/internal/ipc"
)

const sessionTokenEnv = "SCHOOLSYNC_SESSION_TOKEN"

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Hand the signed-in session to the daemon",
	}
	sessionCmd.AddCommand(newSessionSetCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionClearCommand(ctx))
	return sessionCmd
}

func newSessionSetCommand(ctx *commandContext) *cobra.Command {
	var req ipc.SessionSetRequest
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Record the session token used to sync queued writes",
		Long: "Record the session token used to sync queued writes.\n\n" +
			"The token is read from --token, from $" + sessionTokenEnv + ", or from stdin when --token is \"-\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := resolveToken(req.Token, cmd.InOrStdin())
			if err != nil {
				return err
			}
			req.Token = token
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionSet(req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printSession(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Token, "token", "", "Session token (\"-\" reads stdin)")
	cmd.Flags().StringVar(&req.CSRFToken, "csrf", "", "CSRF token sent with replayed writes")
	cmd.Flags().StringVar(&req.Username, "username", "", "Signed-in user")
	cmd.Flags().StringVar(&req.Role, "role", "", "Role of the signed-in user")
	cmd.Flags().BoolVar(&req.Verify, "verify", false, "Check the token with the backend before accepting it")
	return cmd
}

func resolveToken(flag string, stdin io.Reader) (string, error) {
	token := strings.TrimSpace(flag)
	if token == "-" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		token = strings.TrimSpace(os.Getenv(sessionTokenEnv))
	}
	if token == "" {
		return "", fmt.Errorf("session token required (--token or $%s)", sessionTokenEnv)
	}
	return token, nil
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionShow()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printSession(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
}

func newSessionClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Sign out; queued writes stay queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionClear()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
				return nil
			})
		},
	}
}

func printSession(out io.Writer, s *api.SessionInfo) {
	if !s.Active {
		fmt.Fprintln(out, "No active session")
		fmt.Fprintf(out, "Device:   %s\n", s.DeviceID)
		return
	}
	fmt.Fprintf(out, "User:     %s\n", valueOr(s.Username, "-"))
	fmt.Fprintf(out, "Role:     %s\n", valueOr(s.Role, "-"))
	fmt.Fprintf(out, "Token:    %s\n", s.Token)
	fmt.Fprintf(out, "Since:    %s\n", valueOr(s.StartedAt, "-"))
	fmt.Fprintf(out, "Device:   %s\n", s.DeviceID)
}
