package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schoolsync/internal/config"
	"schoolsync/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventSavedOffline, notifications.Payload{"url": "/api/x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T, out *[]captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		*out = append(*out, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectPriority string
	}{
		{
			name:          "saved offline",
			event:         notifications.EventSavedOffline,
			payload:       notifications.Payload{"method": "POST", "url": "/api/attendance", "queued_id": int64(4)},
			expectTitle:   "School Sync - Saved offline",
			expectMessage: "POST /api/attendance saved offline",
		},
		{
			name:          "synced with remaining",
			event:         notifications.EventSyncCompleted,
			payload:       notifications.Payload{"synced": 3, "remaining": 2},
			expectTitle:   "School Sync - Synced",
			expectMessage: "Synced 3 pending change(s), 2 remaining",
		},
		{
			name:           "storage full",
			event:          notifications.EventStorageFull,
			payload:        notifications.Payload{"method": "POST", "url": "/api/x", "error": errors.New("quota")},
			expectTitle:    "School Sync - Offline storage full",
			expectMessage:  "NOT recorded",
			expectPriority: "urgent",
		},
		{
			name:           "cleanup failed",
			event:          notifications.EventCleanupFailed,
			payload:        notifications.Payload{"queued_id": int64(9), "error": "disk"},
			expectTitle:    "School Sync - Sync cleanup failed",
			expectMessage:  "Entry #9",
			expectPriority: "urgent",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []captured
			srv := newCaptureServer(t, &got)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			svc := notifications.NewService(&cfg)

			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected one request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got[0].title)
			}
			if !strings.Contains(got[0].body, tc.expectMessage) {
				t.Fatalf("expected message containing %q, got %q", tc.expectMessage, got[0].body)
			}
			if got[0].priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got[0].priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	var got []captured
	srv := newCaptureServer(t, &got)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.SavedOffline = false
	cfg.Notifications.Connectivity = false
	svc := notifications.NewService(&cfg)

	for _, event := range []notifications.Event{notifications.EventSavedOffline, notifications.EventConnectivityChanged} {
		if err := svc.Publish(context.Background(), event, nil); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
	if len(got) != 0 {
		t.Fatalf("expected suppressed events to be dropped, got %d requests", len(got))
	}

	cfg.Notifications.Errors = false
	svc = notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventStorageFull, nil); err != nil {
		t.Fatalf("publish storage full: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected blocking warning to bypass toggles, got %d requests", len(got))
	}
}

func TestJournalRetainsBlockingNotices(t *testing.T) {
	journal := notifications.NewJournal(nil, 3)
	ctx := context.Background()

	_ = journal.Publish(ctx, notifications.EventSavedOffline, notifications.Payload{"queued_id": 1})
	_ = journal.Publish(ctx, notifications.EventStorageFull, notifications.Payload{"error": "full"})
	_ = journal.Publish(ctx, notifications.EventSyncCompleted, notifications.Payload{"synced": 1})
	_ = journal.Publish(ctx, notifications.EventSyncCompleted, notifications.Payload{"synced": 2})

	recent := journal.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected capacity to bound notices, got %d", len(recent))
	}
	if recent[0].Event != notifications.EventStorageFull {
		t.Fatalf("expected oldest notice dropped, got %#v", recent[0])
	}
	if blocking := journal.Blocking(); len(blocking) != 1 {
		t.Fatalf("expected one blocking notice, got %d", len(blocking))
	}
	if dropped := journal.Acknowledge(); dropped != 1 {
		t.Fatalf("expected one acknowledged notice, got %d", dropped)
	}
	if len(journal.Blocking()) != 0 {
		t.Fatal("expected no blocking notices after acknowledge")
	}
}
