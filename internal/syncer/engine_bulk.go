package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"schoolsync/internal/backend"
	"schoolsync/internal/logging"
	"schoolsync/internal/outbox"
)

// drainBulk posts entries to the sync route in id-ordered batches. A batch the
// backend rejects as a whole is replayed entry by entry so one bad entry cannot
// discard its neighbours; the rest of the run stays sequential.
func (e *Engine) drainBulk(ctx context.Context, logger *slog.Logger, entries []outbox.Request, report *Report) error {
	size := e.cfg.Sync.BatchSize
	if size <= 0 {
		size = len(entries)
	}
	for start := 0; start < len(entries); start += size {
		if err := ctx.Err(); err != nil {
			report.StopReason = "cancelled"
			return errStop
		}
		batch := entries[start:min(start+size, len(entries))]
		result := e.postBatch(ctx, batch)
		switch result.Outcome {
		case Success:
			for _, entry := range batch {
				if err := e.settle(ctx, logger, entry, result, report); err != nil {
					return err
				}
			}
		case RetryableFailure:
			return e.settle(ctx, logger, batch[0], result, report)
		default:
			logging.WarnWithContext(logger, "bulk batch rejected; replaying entries individually", "sync_bulk_fallback",
				logging.Int("batch_size", len(batch)),
				logging.Int64("first_id", batch[0].ID),
				logging.String("reason", result.Reason),
			)
			return e.drainSequential(ctx, logger, entries[start:], report)
		}
	}
	return nil
}

func (e *Engine) postBatch(ctx context.Context, batch []outbox.Request) Result {
	payload, err := encodeBatch(batch)
	if err != nil {
		return Result{Outcome: TerminalClientError, Reason: err.Error()}
	}
	var creds backend.Credentials
	if e.session != nil {
		creds = e.session.Credentials()
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	resp, err := e.bulk.PostSync(ctx, payload, creds)
	if err != nil {
		return e.classifier.Classify(0, err)
	}
	defer backend.DrainAndClose(resp)
	return e.classifier.Classify(resp.StatusCode, nil)
}

func encodeBatch(batch []outbox.Request) ([]byte, error) {
	records := make([]outbox.Record, 0, len(batch))
	for _, entry := range batch {
		rec, err := entry.ToRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode sync batch: %w", err)
	}
	return payload, nil
}
