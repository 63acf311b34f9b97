package syncer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"schoolsync/internal/backend"
	"schoolsync/internal/outbox"
)

// drainSequential replays entries one at a time in id order and stops at the
// first retryable failure.
func (e *Engine) drainSequential(ctx context.Context, logger *slog.Logger, entries []outbox.Request, report *Report) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			report.StopReason = "cancelled"
			return errStop
		}
		result := e.replay(ctx, entry)
		if err := e.settle(ctx, logger, entry, result, report); err != nil {
			return err
		}
	}
	return nil
}

// replay sends one entry with its captured headers and body.
func (e *Engine) replay(ctx context.Context, entry outbox.Request) Result {
	req, err := buildReplayRequest(ctx, entry)
	if err != nil {
		// a stored entry that cannot be rebuilt will never succeed
		return Result{Outcome: TerminalClientError, Reason: "unreadable entry: " + err.Error()}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}
	resp, err := e.transport.RoundTrip(req)
	if err != nil {
		return e.classifier.Classify(0, err)
	}
	defer backend.DrainAndClose(resp)
	return e.classifier.Classify(resp.StatusCode, nil)
}

func buildReplayRequest(ctx context.Context, entry outbox.Request) (*http.Request, error) {
	payload, contentType, err := entry.Body.Encode()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, entry.Method, entry.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build replay request: %w", err)
	}
	req.Header = entry.HTTPHeader()
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if len(payload) == 0 {
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", backend.UserAgent)
	}
	if rid, ok := backend.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	return req, nil
}
