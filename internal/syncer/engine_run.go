package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
	"schoolsync/internal/logging"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
)

// Report summarizes one run.
type Report struct {
	Trigger    string    `json:"trigger"`
	RequestID  string    `json:"request_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Synced     int       `json:"synced"`
	Dropped    int       `json:"dropped"`
	Orphaned   int       `json:"orphaned"`
	Remaining  int       `json:"remaining"`
	Drained    bool      `json:"drained"`
	Skipped    bool      `json:"skipped,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
	StoppedAt  int64     `json:"stopped_at,omitempty"`
	Cleanup    bool      `json:"cleanup_failed,omitempty"`
}

// Summary renders the report as one line.
func (r Report) Summary() string {
	switch {
	case r.Skipped:
		return "sync skipped: " + r.StopReason
	case r.Drained:
		return fmt.Sprintf("fully drained (%d synced, %d dropped, %d orphaned)", r.Synced, r.Dropped, r.Orphaned)
	default:
		return fmt.Sprintf("%d remaining: %s", r.Remaining, r.StopReason)
	}
}

// errStop ends the replay loop; the reason is already on the report.
var errStop = errors.New("sync stopped")

func (e *Engine) run(ctx context.Context, trigger string) (report Report) {
	requestID := backend.NewRequestID()
	ctx = backend.WithRequestID(backend.WithTrigger(ctx, trigger), requestID)
	logger := logging.WithContext(ctx, e.logger)

	report = Report{Trigger: trigger, RequestID: requestID, Mode: e.cfg.Sync.Mode, StartedAt: time.Now().UTC()}
	e.markRunning(trigger)
	defer func() {
		report.FinishedAt = time.Now().UTC()
		e.finish(ctx, logger, &report)
	}()

	token := ""
	if e.session != nil {
		token = e.session.Token()
	}
	if token == "" {
		report.Skipped = true
		report.StopReason = "no active session"
		return report
	}

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		report.StopReason = "read outbox: " + err.Error()
		logging.ErrorWithContext(logger, "failed to read outbox", "sync_list_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check outbox database access"),
		)
		return report
	}

	current := e.dropOrphans(ctx, logger, pending, token, &report)
	if len(current) == 0 {
		return report
	}

	logger.Info("sync run started",
		logging.Int("pending", len(current)),
		logging.String("mode", report.Mode),
	)
	if report.Mode == config.SyncModeBulk && e.bulk != nil {
		_ = e.drainBulk(ctx, logger, current, &report)
	} else {
		_ = e.drainSequential(ctx, logger, current, &report)
	}
	return report
}

// dropOrphans removes entries captured under another session and returns the rest.
func (e *Engine) dropOrphans(ctx context.Context, logger *slog.Logger, pending []outbox.Request, token string, report *Report) []outbox.Request {
	current := make([]outbox.Request, 0, len(pending))
	for _, entry := range pending {
		if entry.SessionToken == token {
			current = append(current, entry)
			continue
		}
		if err := e.store.Remove(ctx, entry.ID); err != nil {
			// the entry is still skipped; it will be retried as an orphan next run
			logging.ErrorWithContext(logger, "failed to drop orphaned entry", "sync_orphan_remove_failed",
				logging.QueuedID(entry.ID),
				logging.Error(err),
			)
			continue
		}
		report.Orphaned++
		logging.WarnWithContext(logger, "dropped entry from another session", "sync_orphan_dropped",
			logging.QueuedID(entry.ID),
			logging.String("method", entry.Method),
			logging.String("url", entry.URL),
			logging.Error(backend.ErrSessionMismatch),
			logging.String(logging.FieldImpact, "the change was not replayed"),
		)
	}
	return current
}

// settle applies an outcome to one entry. It returns errStop when the run must end.
func (e *Engine) settle(ctx context.Context, logger *slog.Logger, entry outbox.Request, result Result, report *Report) error {
	if !result.Outcome.Removes() {
		report.StopReason = result.Reason
		report.StoppedAt = entry.ID
		logger.Info("sync stopped; entry kept for next trigger",
			logging.QueuedID(entry.ID),
			logging.String("reason", result.Reason),
		)
		return errStop
	}
	if err := e.store.Remove(ctx, entry.ID); err != nil {
		report.Cleanup = true
		report.StopReason = "cleanup failed: " + err.Error()
		report.StoppedAt = entry.ID
		logging.ErrorWithContext(logger, "replayed entry could not be removed", "sync_cleanup_failed",
			logging.QueuedID(entry.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "sync paused to avoid sending the entry twice"),
			logging.String(logging.FieldErrorHint, "check outbox database access, then sync again"),
		)
		e.publishBlocking(notifications.EventCleanupFailed, notifications.Payload{
			"queued_id": entry.ID,
			"error":     err,
		})
		return errStop
	}
	if result.Outcome == TerminalClientError {
		report.Dropped++
		logging.WarnWithContext(logger, "dropped entry rejected by backend", "sync_entry_rejected",
			logging.QueuedID(entry.ID),
			logging.String("method", entry.Method),
			logging.String("url", entry.URL),
			logging.String("reason", result.Reason),
			logging.String(logging.FieldImpact, "the change will not be applied"),
		)
		return nil
	}
	report.Synced++
	logger.Debug("entry synced",
		logging.QueuedID(entry.ID),
		logging.Int("status", result.Status),
	)
	return nil
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, report *Report) {
	countCtx := ctx
	if ctx.Err() != nil {
		countCtx = context.Background()
	}
	if remaining, err := e.store.Count(countCtx); err == nil {
		report.Remaining = remaining
	} else {
		logger.Warn("failed to count remaining entries", logging.Error(err))
	}
	report.Drained = !report.Skipped && report.StopReason == "" && report.Remaining == 0

	switch {
	case report.Skipped:
		logger.Debug("sync run skipped", logging.String("reason", report.StopReason))
	case report.Synced+report.Dropped+report.Orphaned > 0 || report.StopReason != "":
		logger.Info("sync run finished",
			logging.Int("synced", report.Synced),
			logging.Int("dropped", report.Dropped),
			logging.Int("orphaned", report.Orphaned),
			logging.Int("remaining", report.Remaining),
			logging.String("result", report.Summary()),
			logging.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		)
	}

	if report.Synced > 0 {
		notifications.PublishAsync(e.notifier, notifications.EventSyncCompleted, notifications.Payload{
			"synced":    report.Synced,
			"remaining": report.Remaining,
		}, e.timeout, func(err error) {
			e.logger.Debug("sync notification failed", logging.Error(err))
		})
	}
	e.markFinished(*report)
}

func (e *Engine) publishBlocking(event notifications.Event, payload notifications.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		e.logger.Warn("blocking notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
