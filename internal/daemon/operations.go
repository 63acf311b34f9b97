package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"schoolsync/internal/cacheworker"
	"schoolsync/internal/logging"
	"schoolsync/internal/manifest"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
	"schoolsync/internal/session"
	"schoolsync/internal/syncer"
)

// ErrEntryNotFound is returned when an outbox id does not exist.
var ErrEntryNotFound = errors.New("outbox entry not found")

// ListOutbox returns pending entries in replay order.
func (d *Daemon) ListOutbox(ctx context.Context) ([]outbox.Request, error) {
	return d.store.ListPending(ctx)
}

// RemoveOutbox discards one pending entry without sending it. An unknown id
// yields ErrEntryNotFound and leaves the outbox untouched, so a repeated call
// is harmless; the error only tells the operator nothing was removed.
func (d *Daemon) RemoveOutbox(ctx context.Context, id int64) error {
	entry, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, id)
	}
	if err := d.store.Remove(ctx, id); err != nil {
		return err
	}
	d.logger.Info("outbox entry discarded",
		logging.QueuedID(id),
		logging.String("method", entry.Method),
		logging.String("url", entry.URL),
	)
	return nil
}

// ClearOutbox discards every pending entry.
func (d *Daemon) ClearOutbox(ctx context.Context) (int64, error) {
	removed, err := d.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logging.WarnWithContext(d.logger, "outbox cleared", "outbox_cleared",
			logging.Int64("removed", removed),
			logging.String(logging.FieldImpact, "discarded changes will never reach the backend"),
		)
	}
	return removed, nil
}

// ExportOutbox writes the pending entries as a JSON document.
func (d *Daemon) ExportOutbox(ctx context.Context, w io.Writer) (int, error) {
	return d.store.Export(ctx, w)
}

// ImportOutbox appends entries from an export document.
func (d *Daemon) ImportOutbox(ctx context.Context, r io.Reader) (int, error) {
	n, err := d.store.Import(ctx, r)
	if err == nil && n > 0 {
		d.engine.Trigger(syncer.TriggerManual)
	}
	return n, err
}

// SyncNow drains the outbox and waits for the report.
func (d *Daemon) SyncNow(ctx context.Context) syncer.Report {
	return d.engine.Run(ctx, syncer.TriggerManual)
}

// SetSession records the signed-in identity. With verify the backend must
// accept it first; a rejected session is cleared again.
func (d *Daemon) SetSession(ctx context.Context, s session.Session, verify bool) error {
	if err := d.session.Set(ctx, s); err != nil {
		return err
	}
	if verify {
		if err := d.session.Verify(ctx, d.client); err != nil {
			return err
		}
	}
	d.engine.Trigger(syncer.TriggerSession)
	return nil
}

// ClearSession signs out. Entries queued under the old session stay queued
// and are dropped by the next sync under a different session.
func (d *Daemon) ClearSession(ctx context.Context) error {
	return d.session.Clear(ctx)
}

// CurrentSession returns the active session and the device id.
func (d *Daemon) CurrentSession() (session.Session, string) {
	return d.session.Current(), d.session.DeviceID()
}

// RefreshManifest downloads a fresh manifest.
func (d *Daemon) RefreshManifest(ctx context.Context) (manifest.Snapshot, error) {
	return d.manifest.Refresh(ctx)
}

// ManifestInfo describes the stored manifest.
func (d *Daemon) ManifestInfo(ctx context.Context) (manifest.Snapshot, error) {
	return d.manifest.Info(ctx)
}

// ManifestData returns the stored manifest including its document.
func (d *Daemon) ManifestData(ctx context.Context) (manifest.Snapshot, error) {
	return d.manifest.Load(ctx)
}

// SearchManifest looks up records by name offline.
func (d *Daemon) SearchManifest(ctx context.Context, query string, limit int) ([]manifest.Match, error) {
	return d.manifest.Search(ctx, query, limit)
}

// InstallWorker precaches the configured generation.
func (d *Daemon) InstallWorker(ctx context.Context) (cacheworker.InstallReport, error) {
	if d.worker == nil {
		return cacheworker.InstallReport{}, ErrWorkerDisabled
	}
	return d.worker.Install(ctx)
}

// ActivateWorker switches serving to the configured generation.
func (d *Daemon) ActivateWorker(ctx context.Context) (cacheworker.ActivateReport, error) {
	if d.worker == nil {
		return cacheworker.ActivateReport{}, ErrWorkerDisabled
	}
	return d.worker.Activate(ctx)
}

// WorkerGenerations lists cache generations.
func (d *Daemon) WorkerGenerations(ctx context.Context) ([]cacheworker.Generation, error) {
	if d.worker == nil {
		return nil, ErrWorkerDisabled
	}
	return d.worker.Generations(ctx)
}

// AcknowledgeWarnings dismisses retained blocking warnings.
func (d *Daemon) AcknowledgeWarnings() int {
	return d.journal.Acknowledge()
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTestNotification, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
