package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"schoolsync/internal/config"
)

const userAgent = "schoolsync/1.0"

// Event enumerates user-visible notifications.
type Event string

const (
	// EventSavedOffline fires after a mutation was durably queued.
	EventSavedOffline Event = "saved_offline"
	// EventSyncCompleted fires after a run removed at least one entry.
	EventSyncCompleted Event = "sync_completed"
	// EventConnectivityChanged fires on online/offline transitions.
	EventConnectivityChanged Event = "connectivity_changed"
	// EventStorageFull is a blocking warning: a mutation could not be stored.
	EventStorageFull Event = "storage_full"
	// EventCleanupFailed is a blocking warning: a replayed entry could not be removed.
	EventCleanupFailed Event = "cleanup_failed"
	// EventError reports other failures.
	EventError Event = "error"
	// EventTestNotification verifies delivery.
	EventTestNotification Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Blocking reports whether the event demands explicit user attention.
func (e Event) Blocking() bool {
	return e == EventStorageFull || e == EventCleanupFailed
}

// Service delivers notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventSavedOffline:
		return n.cfg.SavedOffline
	case EventSyncCompleted:
		return n.cfg.Synced
	case EventConnectivityChanged:
		return n.cfg.Connectivity
	case EventError:
		return n.cfg.Errors
	default:
		// blocking warnings and tests are always delivered
		return true
	}
}

func render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventSavedOffline:
		return message{
			title: "Saved offline",
			body:  fmt.Sprintf("%s %s saved offline; it will be sent when the connection returns (#%v)", payload.str("method"), payload.str("url"), payload["queued_id"]),
			tags:  []string{"schoolsync", "outbox", "queued"},
		}, true
	case EventSyncCompleted:
		body := fmt.Sprintf("Synced %v pending change(s)", payload["synced"])
		if remaining, ok := payload["remaining"].(int); ok && remaining > 0 {
			body = fmt.Sprintf("%s, %d remaining", body, remaining)
		}
		return message{title: "Synced", body: body, tags: []string{"schoolsync", "sync", "completed"}}, true
	case EventConnectivityChanged:
		state := "offline"
		if online, _ := payload["online"].(bool); online {
			state = "online"
		}
		return message{
			title: "Connection " + state,
			body:  fmt.Sprintf("Backend is %s (%s)", state, payload.str("source")),
			tags:  []string{"schoolsync", "connectivity", state},
		}, true
	case EventStorageFull:
		return message{
			title:    "Offline storage full",
			body:     fmt.Sprintf("Could not save %s %s offline: %s. The change was NOT recorded.", payload.str("method"), payload.str("url"), payload.str("error")),
			tags:     []string{"schoolsync", "outbox", "warning"},
			priority: "urgent",
		}, true
	case EventCleanupFailed:
		return message{
			title:    "Sync cleanup failed",
			body:     fmt.Sprintf("Entry #%v was sent but could not be removed locally: %s. Sync is paused to avoid sending it twice.", payload["queued_id"], payload.str("error")),
			tags:     []string{"schoolsync", "sync", "warning"},
			priority: "urgent",
		}, true
	case EventError:
		return message{
			title:    "Error",
			body:     fmt.Sprintf("Error during %s: %s", payload.str("context"), payload.str("error")),
			tags:     []string{"schoolsync", "error"},
			priority: "high",
		}, true
	case EventTestNotification:
		return message{title: "Test", body: "Notification system test", tags: []string{"schoolsync", "test"}, priority: "low"}, true
	default:
		return message{}, false
	}
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return fmt.Sprint(v)
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", "School Sync - "+msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Notice is one notification kept by a Journal.
type Notice struct {
	Event    Event     `json:"event"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Blocking bool      `json:"blocking"`
	At       time.Time `json:"at"`
}

// Journal keeps the most recent notifications in memory so the status API can
// show them, and forwards every event to the wrapped service.
type Journal struct {
	next     Service
	capacity int

	mu      sync.Mutex
	notices []Notice
}

// NewJournal wraps next. A nil next discards forwarded events.
func NewJournal(next Service, capacity int) *Journal {
	if next == nil {
		next = noopService{}
	}
	if capacity <= 0 {
		capacity = 50
	}
	return &Journal{next: next, capacity: capacity}
}

func (j *Journal) Publish(ctx context.Context, event Event, payload Payload) error {
	if msg, ok := render(event, payload); ok {
		j.mu.Lock()
		if len(j.notices) == j.capacity {
			j.notices = append(j.notices[:0], j.notices[1:]...)
		}
		j.notices = append(j.notices, Notice{
			Event:    event,
			Title:    msg.title,
			Message:  msg.body,
			Blocking: event.Blocking(),
			At:       time.Now().UTC(),
		})
		j.mu.Unlock()
	}
	return j.next.Publish(ctx, event, payload)
}

// Recent returns the retained notices, oldest first.
func (j *Journal) Recent() []Notice {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Notice(nil), j.notices...)
}

// Blocking returns the retained blocking warnings that have not been acknowledged.
func (j *Journal) Blocking() []Notice {
	var out []Notice
	for _, notice := range j.Recent() {
		if notice.Blocking {
			out = append(out, notice)
		}
	}
	return out
}

// Acknowledge drops retained blocking warnings.
func (j *Journal) Acknowledge() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.notices[:0]
	dropped := 0
	for _, notice := range j.notices {
		if notice.Blocking {
			dropped++
			continue
		}
		kept = append(kept, notice)
	}
	j.notices = kept
	return dropped
}

// PublishAsync delivers an event without blocking the caller. Failures are
// reported to onErr when it is non-nil.
func PublishAsync(svc Service, event Event, payload Payload, timeout time.Duration, onErr func(error)) {
	if svc == nil {
		return
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := svc.Publish(ctx, event, payload); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}
