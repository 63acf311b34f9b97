package api

import (
	"strings"
	"time"

	"schoolsync/internal/cacheworker"
	"schoolsync/internal/connectivity"
	"schoolsync/internal/manifest"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
	"schoolsync/internal/session"
	"schoolsync/internal/syncer"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// Fingerprint shortens a session token for display.
func Fingerprint(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "…" + token[len(token)-4:]
}

// FromRequest converts a queued request.
func FromRequest(req outbox.Request) OutboxEntry {
	return OutboxEntry{
		ID:             req.ID,
		URL:            req.URL,
		Method:         req.Method,
		BodyType:       string(req.Body.Kind),
		ContentType:    req.Body.ContentType,
		Size:           req.Body.Size(),
		CreatedAt:      formatTime(req.Timestamp),
		Session:        Fingerprint(req.SessionToken),
		IdempotencyKey: req.IdempotencyKey,
	}
}

// FromRequests converts a slice of queued requests, never returning nil.
func FromRequests(reqs []outbox.Request) []OutboxEntry {
	out := make([]OutboxEntry, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, FromRequest(req))
	}
	return out
}

// FromUsage converts outbox occupancy.
func FromUsage(u outbox.Usage) OutboxUsage {
	return OutboxUsage(u)
}

// FromReport converts a sync report.
func FromReport(r syncer.Report) SyncReport {
	return SyncReport{
		Trigger:       r.Trigger,
		RequestID:     r.RequestID,
		Mode:          r.Mode,
		StartedAt:     formatTime(r.StartedAt),
		FinishedAt:    formatTime(r.FinishedAt),
		Synced:        r.Synced,
		Dropped:       r.Dropped,
		Orphaned:      r.Orphaned,
		Remaining:     r.Remaining,
		Drained:       r.Drained,
		Skipped:       r.Skipped,
		StopReason:    r.StopReason,
		StoppedAt:     r.StoppedAt,
		CleanupFailed: r.Cleanup,
		Summary:       r.Summary(),
	}
}

// FromSyncStatus converts the engine status.
func FromSyncStatus(s syncer.Status, mode string) SyncStatus {
	out := SyncStatus{
		Running:     s.Running,
		Mode:        mode,
		LastTrigger: s.LastTrigger,
		LastRunAt:   formatTime(s.LastRunAt),
	}
	if s.LastReport != nil {
		report := FromReport(*s.LastReport)
		out.LastReport = &report
	}
	return out
}

// FromConnectivity converts a monitor snapshot.
func FromConnectivity(s connectivity.State) ConnectivityStatus {
	return ConnectivityStatus{
		Online:    s.Online,
		Source:    s.Source,
		Since:     formatTime(s.Since),
		LastProbe: formatTime(s.LastProbe),
		LastError: s.LastError,
	}
}

// FromSession converts the active session.
func FromSession(s session.Session, deviceID string) SessionInfo {
	return SessionInfo{
		Active:    s.Active(),
		Username:  s.Username,
		Role:      s.Role,
		StartedAt: formatTime(s.StartedAt),
		DeviceID:  deviceID,
		Token:     Fingerprint(s.Token),
	}
}

// FromSnapshot converts manifest metadata.
func FromSnapshot(s manifest.Snapshot) ManifestInfo {
	return ManifestInfo{
		SHA256:    s.SHA256,
		FetchedAt: formatTime(s.FetchedAt),
		Records:   s.Records,
		Bytes:     s.Bytes,
	}
}

// FromMatches converts search hits, never returning nil.
func FromMatches(matches []manifest.Match) []ManifestMatch {
	out := make([]ManifestMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, ManifestMatch(m))
	}
	return out
}

// FromGenerations converts cache generations.
func FromGenerations(gens []cacheworker.Generation) []Generation {
	out := make([]Generation, 0, len(gens))
	for _, g := range gens {
		out = append(out, Generation{
			Name:        g.Name,
			State:       g.State,
			Entries:     g.Entries,
			Bytes:       g.Bytes,
			CreatedAt:   formatTime(g.CreatedAt),
			ActivatedAt: formatTime(g.ActivatedAt),
		})
	}
	return out
}

// FromNotices converts retained notifications.
func FromNotices(notices []notifications.Notice) []Notice {
	if len(notices) == 0 {
		return nil
	}
	out := make([]Notice, 0, len(notices))
	for _, n := range notices {
		out = append(out, Notice{
			Event:    string(n.Event),
			Title:    n.Title,
			Message:  n.Message,
			Blocking: n.Blocking,
			At:       formatTime(n.At),
		})
	}
	return out
}
