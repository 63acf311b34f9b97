package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"schoolsync/internal/api"
	"schoolsync/internal/config"
	"schoolsync/internal/preflight"
)

func printStatus(out io.Writer, cfg *config.Config, status *api.DaemonStatus, colorize bool) {
	printSection(out, "Daemon", colorize)
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, fmt.Sprintf("Services stopped (pid %d)", status.PID), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Outbox DB", statusInfo, status.OutboxDBPath, colorize))
	if status.AssetDBPath != "" {
		fmt.Fprintln(out, renderStatusLine("Asset cache", statusInfo, status.AssetDBPath, colorize))
	}
	fmt.Fprintln(out, notificationsLine(cfg, colorize))
	fmt.Fprintln(out)

	printSection(out, "Connectivity", colorize)
	conn := status.Connectivity
	if conn.Online {
		fmt.Fprintln(out, renderStatusLine("Backend", statusOK, sinceDetail("Online", conn.Source, conn.Since), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Backend", statusWarn, sinceDetail("Offline", conn.Source, conn.Since), colorize))
	}
	if conn.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last probe error", statusWarn, conn.LastError, colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Session", colorize)
	sess := status.Session
	if sess.Active {
		who := valueOr(sess.Username, "unknown user")
		if sess.Role != "" {
			who = fmt.Sprintf("%s (%s)", who, sess.Role)
		}
		fmt.Fprintln(out, renderStatusLine("Signed in", statusOK, who, colorize))
		fmt.Fprintln(out, renderStatusLine("Token", statusInfo, sess.Token, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Signed in", statusWarn, "No session; writes queue but cannot sync", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Device", statusInfo, sess.DeviceID, colorize))
	fmt.Fprintln(out)

	printSection(out, "Outbox", colorize)
	fmt.Fprintln(out, outboxUsageLine(status.Outbox, colorize))
	fmt.Fprintln(out)

	printSection(out, "Sync", colorize)
	syncStatus := status.Sync
	state := "Idle"
	if syncStatus.Running {
		state = "Running"
	}
	fmt.Fprintln(out, renderStatusLine("Engine", statusInfo, fmt.Sprintf("%s (mode %s)", state, syncStatus.Mode), colorize))
	if report := syncStatus.LastReport; report != nil {
		kind := statusOK
		if !report.Drained {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("Last run", kind, fmt.Sprintf("%s at %s: %s", report.Trigger, report.FinishedAt, report.Summary), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Last run", statusInfo, "Never", colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Manifest", colorize)
	if m := status.Manifest; m != nil {
		fmt.Fprintln(out, renderStatusLine("Stored", statusOK, fmt.Sprintf("%d records, %s, fetched %s", m.Records, humanize.Bytes(uint64(m.Bytes)), m.FetchedAt), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Stored", statusWarn, "None; run `schoolsync manifest refresh` while online", colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Cache Worker", colorize)
	worker := status.Worker
	if !worker.Enabled {
		fmt.Fprintln(out, renderStatusLine("Gateway", statusInfo, "Disabled", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Gateway", statusOK, valueOr(worker.Bind, "not listening"), colorize))
		kind := statusOK
		if worker.Served != worker.Generation {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("Generation", kind, fmt.Sprintf("configured %s, serving %s", worker.Generation, valueOr(worker.Served, "none")), colorize))
	}

	if len(status.Warnings) > 0 {
		fmt.Fprintln(out)
		printSection(out, "Warnings", colorize)
		for _, w := range status.Warnings {
			fmt.Fprintln(out, renderStatusLine(w.Title, statusError, w.Message, colorize))
		}
		fmt.Fprintln(out, "  Dismiss with `schoolsync warnings ack`.")
	}
}

func printOfflineStatus(out io.Writer, cfg *config.Config, colorize bool) {
	printSection(out, "Daemon", colorize)
	fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "Not running", colorize))
	if cfg == nil {
		return
	}
	for _, result := range []preflight.Result{
		preflight.CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		preflight.CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		preflight.CheckDatabaseFile("Outbox DB", cfg.OutboxPath()),
	} {
		fmt.Fprintln(out, resultLine(result, colorize))
	}
	fmt.Fprintln(out, notificationsLine(cfg, colorize))
}

func printSection(out io.Writer, title string, colorize bool) {
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
}

func resultLine(result preflight.Result, colorize bool) string {
	if result.Passed {
		return renderStatusLine(result.Name, statusOK, result.Detail, colorize)
	}
	return renderStatusLine(result.Name, statusError, result.Detail, colorize)
}

func notificationsLine(cfg *config.Config, colorize bool) string {
	result := preflight.CheckNotificationsFromConfig(cfg)
	switch {
	case !result.Passed:
		return renderStatusLine(result.Name, statusWarn, result.Detail, colorize)
	case result.Detail == "Disabled":
		return renderStatusLine(result.Name, statusInfo, result.Detail, colorize)
	default:
		return renderStatusLine(result.Name, statusOK, result.Detail, colorize)
	}
}

func outboxUsageLine(usage api.OutboxUsage, colorize bool) string {
	detail := fmt.Sprintf("%d of %d entries, %s of %s",
		usage.Entries, usage.MaxEntries,
		humanize.Bytes(uint64(usage.Bytes)), humanize.Bytes(uint64(usage.MaxBytes)))
	kind := statusOK
	switch {
	case usage.Entries == 0:
		kind = statusInfo
		detail = "Empty"
	case nearlyFull(usage):
		kind = statusWarn
		detail += " (nearly full)"
	}
	return renderStatusLine("Queued", kind, detail, colorize)
}

func nearlyFull(usage api.OutboxUsage) bool {
	if usage.MaxEntries > 0 && usage.Entries*10 >= usage.MaxEntries*9 {
		return true
	}
	return usage.MaxBytes > 0 && usage.Bytes*10 >= usage.MaxBytes*9
}

func sinceDetail(state, source, since string) string {
	var extra []string
	if source != "" {
		extra = append(extra, "via "+source)
	}
	if since != "" {
		extra = append(extra, "since "+since)
	}
	if len(extra) == 0 {
		return state
	}
	return fmt.Sprintf("%s (%s)", state, strings.Join(extra, ", "))
}
