package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"schoolsync/internal/api"
	"schoolsync/internal/config"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Backend", statusOK, "Online", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestOutboxUsageLine(t *testing.T) {
	tests := []struct {
		name  string
		usage api.OutboxUsage
		want  string
	}{
		{name: "empty", usage: api.OutboxUsage{MaxEntries: 100, MaxBytes: 1 << 20}, want: "[INFO] Empty"},
		{name: "some", usage: api.OutboxUsage{Entries: 3, Bytes: 300, MaxEntries: 100, MaxBytes: 1 << 20}, want: "[OK] 3 of 100 entries"},
		{name: "entries nearly full", usage: api.OutboxUsage{Entries: 95, Bytes: 300, MaxEntries: 100, MaxBytes: 1 << 20}, want: "(nearly full)"},
		{name: "bytes nearly full", usage: api.OutboxUsage{Entries: 1, Bytes: 950, MaxEntries: 100, MaxBytes: 1000}, want: "[WARN]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := outboxUsageLine(tc.usage, false)
			if !strings.Contains(got, tc.want) {
				t.Fatalf("outboxUsageLine = %q, want it to contain %q", got, tc.want)
			}
		})
	}
}

func TestSinceDetail(t *testing.T) {
	if got := sinceDetail("Online", "", ""); got != "Online" {
		t.Fatalf("bare state = %q", got)
	}
	got := sinceDetail("Offline", "probe", "2026-01-02T03:04:05Z")
	if got != "Offline (via probe, since 2026-01-02T03:04:05Z)" {
		t.Fatalf("detail = %q", got)
	}
}

func TestNotificationsLine(t *testing.T) {
	cfg := config.Default()
	if got := notificationsLine(&cfg, false); !strings.Contains(got, "[INFO] Disabled") {
		t.Fatalf("disabled notifications line = %q", got)
	}
	cfg.Notifications.NtfyTopic = "ftp://example.invalid/topic"
	if got := notificationsLine(&cfg, false); !strings.Contains(got, "[WARN]") {
		t.Fatalf("invalid topic line = %q", got)
	}
	cfg.Notifications.NtfyTopic = "https://ntfy.example.invalid/school"
	if got := notificationsLine(&cfg, false); !strings.Contains(got, "[OK]") {
		t.Fatalf("configured topic line = %q", got)
	}
}

func TestRenderTableTrimsWideColumns(t *testing.T) {
	wide := strings.Repeat("x", maxColumnWidth*2)
	out := renderTable([]string{"ID", "URL"}, [][]string{{"1", wide}}, []columnAlignment{alignRight, alignLeft})
	if strings.Contains(out, wide) {
		t.Fatalf("expected wide column to be trimmed")
	}
	if !strings.Contains(out, "URL") {
		t.Fatalf("expected header in output:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatalf("expected empty table for no headers")
	}
}
