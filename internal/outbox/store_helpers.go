package outbox

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

const requestColumns = "id, url, method, headers_json, body_json, created_at, session_token, idempotency_key"

func scanRequest(scanner interface{ Scan(dest ...any) error }) (Request, error) {
	var (
		req         Request
		headersJSON sql.NullString
		bodyJSON    string
		createdMs   int64
	)
	if err := scanner.Scan(
		&req.ID,
		&req.URL,
		&req.Method,
		&headersJSON,
		&bodyJSON,
		&createdMs,
		&req.SessionToken,
		&req.IdempotencyKey,
	); err != nil {
		return Request{}, err
	}
	req.Headers = map[string]string{}
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &req.Headers); err != nil {
			return Request{}, fmt.Errorf("decode headers for entry %d: %w", req.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(bodyJSON), &req.Body); err != nil {
		return Request{}, fmt.Errorf("decode body for entry %d: %w", req.ID, err)
	}
	req.Timestamp = time.UnixMilli(createdMs).UTC()
	return req, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	return slices.Sorted(maps.Keys(m))
}
