package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdempotencyHeader carries the per-entry key the backend uses to detect resubmission.
const IdempotencyHeader = "Idempotency-Key"

// Enqueue appends a request to the outbox and returns its assigned id. The method
// must be POST, PUT, PATCH or DELETE. ErrStorageFull is returned when the quota or
// the disk is exhausted; callers must surface it.
func (s *Store) Enqueue(ctx context.Context, req Request) (int64, error) {
	ctx = ensureContext(ctx)
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if !Eligible(req.Method) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}
	if strings.TrimSpace(req.URL) == "" {
		return 0, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	req.Headers = headers
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = req.Header(IdempotencyHeader)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.Header(IdempotencyHeader) == "" {
		req.Headers[IdempotencyHeader] = req.IdempotencyKey
	}
	if req.Body.Kind == "" {
		req.Body.Kind = BodyEmpty
	}

	headersJSON, err := json.Marshal(req.Headers)
	if err != nil {
		return 0, fmt.Errorf("encode headers: %w", err)
	}
	bodyJSON, err := json.Marshal(req.Body)
	if err != nil {
		return 0, fmt.Errorf("encode body: %w", err)
	}
	size := int64(len(req.URL) + len(headersJSON) + len(bodyJSON))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.checkQuota(ctx, size); err != nil {
		return 0, err
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO outbox (url, method, headers_json, body_json, size_bytes, created_at, session_token, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.URL,
		req.Method,
		string(headersJSON),
		string(bodyJSON),
		size,
		req.Timestamp.UnixMilli(),
		req.SessionToken,
		req.IdempotencyKey,
	)
	if err != nil {
		if isSQLiteFull(err) {
			return 0, fmt.Errorf("%w: %v", ErrStorageFull, err)
		}
		return 0, fmt.Errorf("insert outbox entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read outbox id: %w", err)
	}
	return id, nil
}

func (s *Store) checkQuota(ctx context.Context, incoming int64) error {
	if s.maxEntries <= 0 && s.maxBytes <= 0 {
		return nil
	}
	usage, err := s.usage(ctx)
	if err != nil {
		return err
	}
	if s.maxEntries > 0 && usage.Entries+1 > s.maxEntries {
		return fmt.Errorf("%w: %d entries queued (limit %d)", ErrStorageFull, usage.Entries, s.maxEntries)
	}
	if s.maxBytes > 0 && usage.Bytes+incoming > s.maxBytes {
		return fmt.Errorf("%w: %d of %d bytes used, entry needs %d", ErrStorageFull, usage.Bytes, s.maxBytes, incoming)
	}
	return nil
}

// ListPending returns every queued entry in ascending id order.
func (s *Store) ListPending(ctx context.Context) ([]Request, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+requestColumns+" FROM outbox ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// Get returns one entry, or nil when the id is absent.
func (s *Store) Get(ctx context.Context, id int64) (*Request, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM outbox WHERE id = ?", id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox entry %d: %w", id, err)
	}
	return &req, nil
}

// Remove deletes one entry. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, "DELETE FROM outbox WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove outbox entry %d: %w", id, err)
	}
	return nil
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM outbox")
	if err != nil {
		return 0, fmt.Errorf("clear outbox: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of pending entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	usage, err := s.usage(ensureContext(ctx))
	if err != nil {
		return 0, err
	}
	return usage.Entries, nil
}

// Usage reports pending entries and bytes against the configured quota.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	return s.usage(ensureContext(ctx))
}

func (s *Store) usage(ctx context.Context) (Usage, error) {
	usage := Usage{MaxEntries: s.maxEntries, MaxBytes: s.maxBytes}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(size_bytes), 0) FROM outbox",
	).Scan(&usage.Entries, &usage.Bytes)
	if err != nil {
		return Usage{}, fmt.Errorf("read outbox usage: %w", err)
	}
	return usage, nil
}
