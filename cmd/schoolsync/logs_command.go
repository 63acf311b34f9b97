package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"schoolsync/internal/logging"
	"schoolsync/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		lines  int
		raw    bool
		filter logs.Filter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.LogFilePath(cfg)
			out := cmd.OutOrStdout()

			opts := logs.TailOptions{Offset: -1, Limit: max(lines, 0), Filter: filter}
			if lines <= 0 {
				opts.Offset = 0
			}
			printed := false
			for {
				result, err := logs.Tail(cmd.Context(), path, opts)
				if err != nil {
					if errors.Is(err, cmd.Context().Err()) {
						return nil
					}
					return fmt.Errorf("read logs: %w", err)
				}
				for _, line := range result.Lines {
					writeLogLine(out, line, raw)
					printed = true
				}
				if !follow {
					if !printed {
						fmt.Fprintln(out, "No log entries available")
					}
					return nil
				}
				opts = logs.TailOptions{Offset: result.Offset, Follow: true, Wait: time.Second, Filter: filter}
				if cmd.Context().Err() != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to show (0 for all)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines as written")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only show lines from this component")
	cmd.Flags().StringVar(&filter.EventType, "event", "", "Only show lines with this event_type")
	return cmd
}

// hiddenLogKeys are printed in the line prefix rather than as key=value pairs.
var hiddenLogKeys = []string{"ts", "level", "msg", logging.FieldComponent}

func writeLogLine(out io.Writer, line string, raw bool) {
	if raw {
		fmt.Fprintln(out, line)
		return
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		fmt.Fprintln(out, line)
		return
	}
	fmt.Fprintln(out, formatLogFields(fields))
}

func formatLogFields(fields map[string]any) string {
	var b strings.Builder
	if ts, ok := fields["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ts = parsed.Local().Format("2006-01-02 15:04:05")
		}
		b.WriteString(ts)
		b.WriteByte(' ')
	}
	level, _ := fields["level"].(string)
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(level))
	if component, ok := fields[logging.FieldComponent].(string); ok && component != "" {
		fmt.Fprintf(&b, " [%s]", component)
	}
	if msg, ok := fields["msg"].(string); ok {
		b.WriteByte(' ')
		b.WriteString(msg)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		if !slices.Contains(hiddenLogKeys, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, fields[key])
	}
	return b.String()
}
