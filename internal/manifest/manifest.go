// Package manifest keeps the offline reference snapshot (the student roster)
// and answers name lookups from it without a network connection.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
	"schoolsync/internal/logging"
	"schoolsync/internal/outbox"
)

// ErrNoManifest is returned when nothing has been downloaded yet.
var ErrNoManifest = errors.New("no manifest downloaded")

// Fetcher downloads the manifest document.
type Fetcher interface {
	FetchManifest(ctx context.Context, creds backend.Credentials) ([]byte, error)
}

// Store persists the singleton snapshot.
type Store interface {
	SaveManifest(ctx context.Context, data []byte) error
	LoadManifest(ctx context.Context) (*outbox.Manifest, error)
}

// Session supplies the active identity.
type Session interface {
	Token() string
	Credentials() backend.Credentials
}

// Connectivity reports backend reachability.
type Connectivity interface {
	Online() bool
}

// Snapshot describes the stored manifest.
type Snapshot struct {
	Data      json.RawMessage `json:"data,omitempty"`
	SHA256    string          `json:"sha256"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   int             `json:"records"`
	Bytes     int             `json:"bytes"`
}

// Service refreshes and reads the manifest.
type Service struct {
	cfg     config.Manifest
	store   Store
	fetcher Fetcher
	session Session
	conn    Connectivity
	logger  *slog.Logger

	mu    sync.Mutex
	index *index
}

// NewService wires the manifest service. fetcher, session and conn are only
// needed for Refresh.
func NewService(cfg *config.Config, store Store, fetcher Fetcher, session Session, conn Connectivity, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg.Manifest,
		store:   store,
		fetcher: fetcher,
		session: session,
		conn:    conn,
		logger:  logging.NewComponentLogger(logger, "manifest"),
	}
}

// Refresh downloads and replaces the manifest. It requires connectivity and an
// active session; on any failure the previous snapshot is kept.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	if s.conn != nil && !s.conn.Online() {
		return Snapshot{}, backend.Wrap(backend.ErrOffline, "manifest", "refresh", "backend unreachable", nil)
	}
	if s.session == nil || s.session.Token() == "" {
		return Snapshot{}, backend.Wrap(backend.ErrUnauthenticated, "manifest", "refresh", "no active session", nil)
	}
	if s.fetcher == nil {
		return Snapshot{}, errors.New("manifest fetcher unavailable")
	}

	data, err := s.fetcher.FetchManifest(ctx, s.session.Credentials())
	if err != nil {
		logging.WarnWithContext(s.logger, "manifest download failed; keeping previous snapshot", "manifest_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "offline lookups use the stale roster"),
		)
		return Snapshot{}, err
	}
	idx, err := buildIndex(data, s.cfg)
	if err != nil {
		logging.WarnWithContext(s.logger, "rejected invalid manifest", "manifest_invalid",
			logging.Error(err),
			logging.Int("bytes", len(data)),
		)
		return Snapshot{}, err
	}
	if err := s.store.SaveManifest(ctx, data); err != nil {
		return Snapshot{}, fmt.Errorf("save manifest: %w", err)
	}

	stored, err := s.store.LoadManifest(ctx)
	if err != nil || stored == nil {
		return Snapshot{}, fmt.Errorf("reload manifest: %w", errors.Join(err, ErrNoManifest))
	}
	idx.sha256 = stored.SHA256
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	snap := snapshotOf(stored, idx, false)
	s.logger.Info("manifest refreshed",
		logging.Int("records", snap.Records),
		logging.Int("bytes", snap.Bytes),
		logging.String("sha256", snap.SHA256),
	)
	return snap, nil
}

// Load returns the stored snapshot including its data.
func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	stored, idx, err := s.current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(stored, idx, true), nil
}

// Info returns the stored snapshot without its data.
func (s *Service) Info(ctx context.Context) (Snapshot, error) {
	stored, idx, err := s.current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(stored, idx, false), nil
}

func (s *Service) current(ctx context.Context) (*outbox.Manifest, *index, error) {
	stored, err := s.store.LoadManifest(ctx)
	if err != nil {
		return nil, nil, err
	}
	if stored == nil {
		return nil, nil, ErrNoManifest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil || s.index.sha256 != stored.SHA256 {
		idx, err := buildIndex(stored.Data, s.cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("stored manifest unreadable: %w", err)
		}
		idx.sha256 = stored.SHA256
		s.index = idx
	}
	return stored, s.index, nil
}

func snapshotOf(stored *outbox.Manifest, idx *index, withData bool) Snapshot {
	snap := Snapshot{
		SHA256:    stored.SHA256,
		FetchedAt: stored.FetchedAt,
		Bytes:     len(stored.Data),
	}
	if idx != nil {
		snap.Records = len(idx.records)
	}
	if withData {
		snap.Data = json.RawMessage(stored.Data)
	}
	return snap
}
