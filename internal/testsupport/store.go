package testsupport

import (
	"context"
	"net/http"
	"testing"

	"schoolsync/internal/config"
	"schoolsync/internal/outbox"
)

// MustOpenStore opens an outbox.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *outbox.Store {
	t.Helper()

	store, err := outbox.Open(cfg)
	if err != nil {
		t.Fatalf("outbox.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustEnqueue stores a JSON POST for the given session and returns its id.
func MustEnqueue(t testing.TB, store *outbox.Store, url, session, jsonBody string) int64 {
	t.Helper()

	id, err := store.Enqueue(context.Background(), outbox.Request{
		URL:          url,
		Method:       http.MethodPost,
		Headers:      map[string]string{"Content-Type": "application/json"},
		Body:         outbox.Body{Kind: outbox.BodyJSON, ContentType: "application/json", Text: jsonBody},
		SessionToken: session,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return id
}

// PendingIDs lists the ids currently queued.
func PendingIDs(t testing.TB, store *outbox.Store) []int64 {
	t.Helper()

	pending, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("store.ListPending: %v", err)
	}
	ids := make([]int64, 0, len(pending))
	for _, req := range pending {
		ids = append(ids, req.ID)
	}
	return ids
}
