// Package session tracks the active authentication session and the device
// identity that queued requests are attributed to.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolsync/internal/backend"
	"schoolsync/internal/logging"
)

const (
	settingSession  = "session"
	settingDeviceID = "device_id"
)

// Session is the identity currently signed in.
type Session struct {
	Token     string    `json:"token"`
	CSRFToken string    `json:"csrf_token,omitempty"`
	Username  string    `json:"username,omitempty"`
	Role      string    `json:"role,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Active reports whether the session carries a token.
func (s Session) Active() bool {
	return strings.TrimSpace(s.Token) != ""
}

// SettingsStore persists small key/value records.
type SettingsStore interface {
	SaveSetting(ctx context.Context, key, value string) error
	LoadSetting(ctx context.Context, key string) (string, bool, error)
	DeleteSetting(ctx context.Context, key string) error
}

// Verifier asks the backend whether a session is still accepted.
type Verifier interface {
	Verify(ctx context.Context, creds backend.Credentials) error
}

// Tracker holds the active session in memory and mirrors it to the settings store.
type Tracker struct {
	store  SettingsStore
	logger *slog.Logger

	mu       sync.RWMutex
	current  Session
	deviceID string
}

// NewTracker loads any persisted session and device id. A device id is generated
// and saved on first use.
func NewTracker(ctx context.Context, store SettingsStore, logger *slog.Logger) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("session tracker requires a settings store")
	}
	t := &Tracker{store: store, logger: logging.NewComponentLogger(logger, "session")}

	raw, ok, err := store.LoadSetting(ctx, settingSession)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.current); err != nil {
			logging.WarnWithContext(t.logger, "discarding unreadable stored session", "session_decode_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "user must sign in again"),
			)
			t.current = Session{}
		}
	}

	deviceID, ok, err := store.LoadSetting(ctx, settingDeviceID)
	if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}
	if !ok || deviceID == "" {
		deviceID = uuid.NewString()
		if err := store.SaveSetting(ctx, settingDeviceID, deviceID); err != nil {
			return nil, fmt.Errorf("save device id: %w", err)
		}
		t.logger.Info("generated device id", logging.String("device_id", deviceID))
	}
	t.deviceID = deviceID
	return t, nil
}

// Current returns the active session; the zero value when signed out.
func (t *Tracker) Current() Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Token returns the active session token, or "" when signed out.
func (t *Tracker) Token() string {
	return t.Current().Token
}

// DeviceID returns the stable device identifier.
func (t *Tracker) DeviceID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deviceID
}

// Credentials returns the headers identity for outgoing requests.
func (t *Tracker) Credentials() backend.Credentials {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return backend.Credentials{
		Token:     t.current.Token,
		CSRFToken: t.current.CSRFToken,
		DeviceID:  t.deviceID,
	}
}

// Set replaces the active session and persists it.
func (t *Tracker) Set(ctx context.Context, s Session) error {
	s.Token = strings.TrimSpace(s.Token)
	if s.Token == "" {
		return errors.New("session token is required")
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := t.store.SaveSetting(ctx, settingSession, string(data)); err != nil {
		return err
	}
	t.mu.Lock()
	previous := t.current.Username
	t.current = s
	t.mu.Unlock()
	t.logger.Info("session started",
		logging.String("username", s.Username),
		logging.String("role", s.Role),
		logging.Bool("replaced", previous != ""),
	)
	return nil
}

// Clear signs out. Entries queued under the old token become orphaned.
func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.store.DeleteSetting(ctx, settingSession); err != nil {
		return err
	}
	t.mu.Lock()
	t.current = Session{}
	t.mu.Unlock()
	t.logger.Info("session cleared")
	return nil
}

// Verify checks the session with the backend. A 401 clears the session and
// returns backend.ErrUnauthenticated; network failures leave it untouched.
func (t *Tracker) Verify(ctx context.Context, verifier Verifier) error {
	if !t.Current().Active() {
		return backend.ErrUnauthenticated
	}
	err := verifier.Verify(ctx, t.Credentials())
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrUnauthenticated) {
		logging.WarnWithContext(t.logger, "backend rejected session", "session_rejected",
			logging.Error(err),
			logging.String(logging.FieldImpact, "queued entries from this session will be dropped on next sync"),
			logging.String(logging.FieldErrorHint, "sign in again"),
		)
		if clearErr := t.Clear(ctx); clearErr != nil {
			return errors.Join(err, clearErr)
		}
	}
	return err
}
