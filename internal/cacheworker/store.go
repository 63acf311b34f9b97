package cacheworker

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the asset database was written by another version.
var ErrSchemaMismatch = errors.New("asset cache schema version mismatch")

// Generation states.
const (
	StateInstalling = "installing"
	StateInstalled  = "installed"
	StateActive     = "active"
)

// Entry is one cached response.
type Entry struct {
	Generation string
	URL        string
	Status     int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Generation describes one cache namespace.
type Generation struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Entries     int       `json:"entries"`
	Bytes       int64     `json:"bytes"`
	CreatedAt   time.Time `json:"created_at"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// Store is the worker's private SQLite cache. It shares nothing with the outbox.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the asset database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create asset cache dir: %w", err)
	}
	// pragmas in the DSN apply to every pooled connection
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open asset cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open asset cache: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if exists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		// cached assets are disposable; the operator can delete the file
		return fmt.Errorf("%w: %s has version %d, expected %d (delete the file to rebuild)",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

const (
	busyRetryAttempts = 5
	busyRetryBackoff  = 10 * time.Millisecond
)

func isBusy(err error) bool {
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry reruns op while SQLite reports the database as locked. Install
// and background revalidation write concurrently.
func withRetry(ctx context.Context, op func() error) error {
	delay := busyRetryBackoff
	var err error
	for attempt := range busyRetryAttempts {
		if err = op(); err == nil || !isBusy(err) || attempt == busyRetryAttempts-1 {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureGeneration creates name in the installing state unless it already exists.
func (s *Store) EnsureGeneration(ctx context.Context, name string) error {
	err := s.exec(ctx,
		`INSERT INTO generations (name, state, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, StateInstalling, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("create generation %s: %w", name, err)
	}
	return nil
}

// MarkInstalled moves an installing generation to installed. Active generations
// are left alone.
func (s *Store) MarkInstalled(ctx context.Context, name string) error {
	err := s.exec(ctx,
		"UPDATE generations SET state = ? WHERE name = ? AND state = ?",
		StateInstalled, name, StateInstalling)
	if err != nil {
		return fmt.Errorf("mark generation %s installed: %w", name, err)
	}
	return nil
}

// ActiveGeneration returns the active generation name, or "" when none is active.
func (s *Store) ActiveGeneration(ctx context.Context) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM generations WHERE state = ? ORDER BY activated_at DESC LIMIT 1",
		StateActive).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active generation: %w", err)
	}
	return name, nil
}

// Activate makes keep the only generation, deleting every other one and its
// entries. It returns the names deleted.
func (s *Store) Activate(ctx context.Context, keep string) ([]string, error) {
	var stale []string
	err := withRetry(ctx, func() error {
		var err error
		stale, err = s.activate(ctx, keep)
		return err
	})
	return stale, err
}

func (s *Store) activate(ctx context.Context, keep string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT name FROM generations WHERE name <> ? ORDER BY name", keep)
	if err != nil {
		return nil, fmt.Errorf("list stale generations: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// orphaned entries from generations that were never registered go too
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation <> ?", keep); err != nil {
		return nil, fmt.Errorf("delete stale entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name <> ?", keep); err != nil {
		return nil, fmt.Errorf("delete stale generations: %w", err)
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO generations (name, state, created_at, activated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET state = excluded.state, activated_at = excluded.activated_at`,
		keep, StateActive, now, now); err != nil {
		return nil, fmt.Errorf("activate generation %s: %w", keep, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activation: %w", err)
	}
	return stale, nil
}

// Put stores or replaces one entry.
func (s *Store) Put(ctx context.Context, e Entry) error {
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	err = s.exec(ctx,
		`INSERT INTO entries (generation, url, status, headers_json, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation, url) DO UPDATE SET
		   status = excluded.status, headers_json = excluded.headers_json,
		   body = excluded.body, stored_at = excluded.stored_at`,
		e.Generation, e.URL, e.Status, string(headers), e.Body, e.StoredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store %s in %s: %w", e.URL, e.Generation, err)
	}
	return nil
}

// Get returns the entry for url in generation, or nil when absent.
func (s *Store) Get(ctx context.Context, generation, url string) (*Entry, error) {
	var (
		e        = Entry{Generation: generation, URL: url}
		headers  string
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT status, headers_json, body, stored_at FROM entries WHERE generation = ? AND url = ?",
		generation, url).Scan(&e.Status, &headers, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", url, generation, err)
	}
	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return nil, fmt.Errorf("decode headers for %s: %w", url, err)
	}
	e.StoredAt = time.UnixMilli(storedAt).UTC()
	return &e, nil
}

// Generations lists every generation with its entry totals.
func (s *Store) Generations(ctx context.Context) ([]Generation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name, g.state, g.created_at, COALESCE(g.activated_at, 0),
		       COUNT(e.url), COALESCE(SUM(LENGTH(e.body)), 0)
		FROM generations g LEFT JOIN entries e ON e.generation = g.name
		GROUP BY g.name ORDER BY g.created_at, g.name`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var (
			g                  Generation
			created, activated int64
		)
		if err := rows.Scan(&g.Name, &g.State, &created, &activated, &g.Entries, &g.Bytes); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		g.CreatedAt = time.UnixMilli(created).UTC()
		if activated > 0 {
			g.ActivatedAt = time.UnixMilli(activated).UTC()
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
