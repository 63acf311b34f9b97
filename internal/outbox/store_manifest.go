package outbox

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// SaveManifest replaces the manifest snapshot.
func (s *Store) SaveManifest(ctx context.Context, data []byte) error {
	sum := sha256.Sum256(data)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO manifest (id, data, sha256, fetched_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, sha256 = excluded.sha256, fetched_at = excluded.fetched_at`,
		string(data), hex.EncodeToString(sum[:]), time.Now().UnixMilli(),
	)
	if err != nil {
		if isSQLiteFull(err) {
			return fmt.Errorf("%w: %v", ErrStorageFull, err)
		}
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// LoadManifest returns the stored snapshot, or nil when none has been saved.
func (s *Store) LoadManifest(ctx context.Context) (*Manifest, error) {
	ctx = ensureContext(ctx)
	var (
		data      string
		m         Manifest
		fetchedMs int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT data, sha256, fetched_at FROM manifest WHERE id = 1").
		Scan(&data, &m.SHA256, &fetchedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	m.Data = []byte(data)
	m.FetchedAt = time.UnixMilli(fetchedMs).UTC()
	return &m, nil
}
