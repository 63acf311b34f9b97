package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
	"schoolsync/internal/connectivity"
	"schoolsync/internal/interceptor"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
	"schoolsync/internal/syncer"
	"schoolsync/internal/testsupport"
)

type fakeSession struct{ token string }

func (s fakeSession) Token() string { return s.token }

func (s fakeSession) Credentials() backend.Credentials {
	return backend.Credentials{Token: s.token, DeviceID: "device-1"}
}

type engineHarness struct {
	cfg     *config.Config
	fb      *testsupport.FakeBackend
	store   *outbox.Store
	journal *notifications.Journal
	engine  *syncer.Engine
	seq     int
}

func newEngineHarness(t *testing.T, responder testsupport.Responder, opts ...testsupport.ConfigOption) *engineHarness {
	t.Helper()
	fb := testsupport.NewFakeBackend(t, responder)
	opts = append([]testsupport.ConfigOption{testsupport.WithBackendURL(fb.URL)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	journal := notifications.NewJournal(nil, 20)
	engine := syncer.NewEngine(cfg, syncer.Options{
		Store:    store,
		Session:  fakeSession{token: "tok-A"},
		Bulk:     backend.NewClient(cfg, nil),
		Notifier: journal,
	})
	return &engineHarness{cfg: cfg, fb: fb, store: store, journal: journal, engine: engine}
}

func (h *engineHarness) enqueue(t *testing.T, n int, session string) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for range n {
		h.seq++
		path := fmt.Sprintf("/api/attendance/%d/", h.seq)
		ids = append(ids, testsupport.MustEnqueue(t, h.store, h.fb.URL+path, session, fmt.Sprintf(`{"seq":%d}`, h.seq)))
	}
	return ids
}

func replayedSeqs(t *testing.T, fb *testsupport.FakeBackend) []int {
	t.Helper()
	var seqs []int
	for _, rec := range fb.Requests() {
		var body struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(rec.Body, &body); err != nil {
			t.Fatalf("decode replayed body %q: %v", rec.Body, err)
		}
		seqs = append(seqs, body.Seq)
	}
	return seqs
}

func TestRunStopsAtFirstRetryableFailure(t *testing.T) {
	h := newEngineHarness(t, testsupport.StatusSequence(http.StatusCreated, http.StatusCreated, http.StatusServiceUnavailable))
	ids := h.enqueue(t, 5, "tok-A")

	report := h.engine.Run(context.Background(), syncer.TriggerManual)

	if report.Synced != 2 || report.Remaining != 3 || report.Drained {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.StoppedAt != ids[2] || !strings.Contains(report.StopReason, "503") {
		t.Fatalf("expected stop at third entry with 503 reason, got %#v", report)
	}
	if got := testsupport.PendingIDs(t, h.store); !slices.Equal(got, ids[2:]) {
		t.Fatalf("expected entries %v to remain, got %v", ids[2:], got)
	}
	if got := replayedSeqs(t, h.fb); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("expected in-order replay stopping at 3, got %v", got)
	}
}

func TestRunRetriesWholeQueueInOrderAfterOutage(t *testing.T) {
	h := newEngineHarness(t, testsupport.StatusSequence(http.StatusServiceUnavailable))
	ids := h.enqueue(t, 2, "tok-A")

	first := h.engine.Run(context.Background(), syncer.TriggerOnline)
	if first.Synced != 0 || first.Remaining != 2 {
		t.Fatalf("expected both entries kept, got %#v", first)
	}
	if got := testsupport.PendingIDs(t, h.store); !slices.Equal(got, ids) {
		t.Fatalf("expected %v pending, got %v", ids, got)
	}
	if got := len(h.fb.Requests()); got != 1 {
		t.Fatalf("expected run to stop after first failure, got %d requests", got)
	}

	h.fb.SetResponder(testsupport.StatusSequence(http.StatusCreated))
	second := h.engine.Run(context.Background(), syncer.TriggerOnline)
	if !second.Drained || second.Synced != 2 {
		t.Fatalf("expected drained second run, got %#v", second)
	}
	if got := replayedSeqs(t, h.fb); !slices.Equal(got, []int{1, 1, 2}) {
		t.Fatalf("expected retry to start from the first entry, got %v", got)
	}
}

func TestTerminalErrorsAreDropped(t *testing.T) {
	h := newEngineHarness(t, testsupport.StatusSequence(http.StatusCreated, http.StatusConflict, http.StatusBadRequest, http.StatusOK))
	h.enqueue(t, 4, "tok-A")

	report := h.engine.Run(context.Background(), syncer.TriggerManual)
	if !report.Drained || report.Synced != 2 || report.Dropped != 2 {
		t.Fatalf("expected terminal errors removed without blocking, got %#v", report)
	}
	if got := replayedSeqs(t, h.fb); !slices.Equal(got, []int{1, 2, 3, 4}) {
		t.Fatalf("expected every entry replayed once, got %v", got)
	}
}

func TestOrphanedEntriesAreNeverReplayed(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.enqueue(t, 1, "tok-old")
	mine := h.enqueue(t, 1, "tok-A")
	h.enqueue(t, 1, "")

	report := h.engine.Run(context.Background(), syncer.TriggerManual)
	if report.Orphaned != 2 || report.Synced != 1 || !report.Drained {
		t.Fatalf("unexpected report %#v", report)
	}
	reqs := h.fb.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected only the current session's entry replayed, got %d", len(reqs))
	}
	if want := fmt.Sprintf("/api/attendance/%d/", 2); reqs[0].Path != want {
		t.Fatalf("expected %s replayed (id %d), got %s", want, mine[0], reqs[0].Path)
	}
}

func TestRunWithoutSessionKeepsQueue(t *testing.T) {
	fb := testsupport.NewFakeBackend(t, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fb.URL))
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, fb.URL+"/api/x/", "tok-A", `{}`)
	engine := syncer.NewEngine(cfg, syncer.Options{Store: store, Session: fakeSession{}, Notifier: notifications.NewJournal(nil, 1)})

	report := engine.Run(context.Background(), syncer.TriggerStartup)
	if !report.Skipped || report.Remaining != 1 {
		t.Fatalf("expected skipped run with entry kept, got %#v", report)
	}
	if len(fb.Requests()) != 0 {
		t.Fatal("expected no replay without a session")
	}
}

func TestReplayUsesCapturedHeadersAndRebuildsMultipart(t *testing.T) {
	h := newEngineHarness(t, nil)
	_, err := h.store.Enqueue(context.Background(), outbox.Request{
		URL:     h.fb.URL + "/api/students/9/photo/",
		Method:  http.MethodPut,
		Headers: map[string]string{"X-CSRFToken": "captured", "Content-Type": "multipart/form-data; boundary=old"},
		Body: outbox.Body{Kind: outbox.BodyForm, ContentType: "multipart/form-data", Form: []outbox.FormField{
			{Name: "student", Value: "S9"},
			{Name: "photo", File: &outbox.FormFile{Filename: "a.png", ContentType: "image/png", Data: "AAEC"}},
		}},
		SessionToken: "tok-A",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	report := h.engine.Run(context.Background(), syncer.TriggerManual)
	if !report.Drained {
		t.Fatalf("expected drained, got %#v", report)
	}
	rec := h.fb.Requests()[0]
	if rec.Method != http.MethodPut || rec.Header.Get("X-CSRFToken") != "captured" {
		t.Fatalf("expected captured headers replayed, got %s %#v", rec.Method, rec.Header)
	}
	if rec.Header.Get(outbox.IdempotencyHeader) == "" {
		t.Fatal("expected idempotency key on replay")
	}
	ct := rec.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data; boundary=") || strings.Contains(ct, "boundary=old") {
		t.Fatalf("expected fresh multipart boundary, got %q", ct)
	}
	if !strings.Contains(string(rec.Body), `filename="a.png"`) {
		t.Fatalf("expected file part rebuilt, got %q", rec.Body)
	}
}

func TestBulkModePostsBatches(t *testing.T) {
	h := newEngineHarness(t, nil, testsupport.WithSyncMode(config.SyncModeBulk))
	h.cfg.Sync.BatchSize = 2
	h.engine = syncer.NewEngine(h.cfg, syncer.Options{
		Store: h.store, Session: fakeSession{token: "tok-A"}, Bulk: backend.NewClient(h.cfg, nil), Notifier: h.journal,
	})
	h.enqueue(t, 3, "tok-A")

	report := h.engine.Run(context.Background(), syncer.TriggerManual)
	if !report.Drained || report.Synced != 3 {
		t.Fatalf("expected drained bulk run, got %#v", report)
	}
	posts := h.fb.RequestsTo(http.MethodPost, h.cfg.Backend.SyncPath)
	if len(posts) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(posts))
	}
	var first []outbox.Record
	if err := json.Unmarshal(posts[0].Body, &first); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(first) != 2 || first[0].ID >= first[1].ID || first[0].SessionToken != "tok-A" {
		t.Fatalf("unexpected batch %#v", first)
	}
	if string(first[0].Body) != `{"seq":1}` {
		t.Fatalf("expected JSON body inline, got %s", first[0].Body)
	}
	if got := posts[0].Header.Get("Authorization"); got != "Token tok-A" {
		t.Fatalf("expected session credentials on batch, got %q", got)
	}
}

func TestBulkRejectionFallsBackToReplay(t *testing.T) {
	h := newEngineHarness(t, nil, testsupport.WithSyncMode(config.SyncModeBulk))
	h.fb.SetResponder(func(rec testsupport.RecordedRequest) (int, string) {
		if rec.Path == h.cfg.Backend.SyncPath {
			return http.StatusBadRequest, `{"detail":"bad item"}`
		}
		if strings.Contains(string(rec.Body), `"seq":2`) {
			return http.StatusBadRequest, "{}"
		}
		return http.StatusCreated, "{}"
	})
	h.enqueue(t, 3, "tok-A")

	report := h.engine.Run(context.Background(), syncer.TriggerManual)
	if !report.Drained || report.Synced != 2 || report.Dropped != 1 {
		t.Fatalf("expected per-entry fallback, got %#v", report)
	}
	if got := len(h.fb.RequestsTo(http.MethodPost, h.cfg.Backend.SyncPath)); got != 1 {
		t.Fatalf("expected a single bulk attempt, got %d", got)
	}
}

type failingRemoveStore struct {
	*outbox.Store
}

func (failingRemoveStore) Remove(context.Context, int64) error {
	return errors.New("disk I/O error")
}

func TestCleanupFailureStopsAndWarns(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.enqueue(t, 2, "tok-A")
	engine := syncer.NewEngine(h.cfg, syncer.Options{
		Store:    failingRemoveStore{h.store},
		Session:  fakeSession{token: "tok-A"},
		Notifier: h.journal,
	})

	report := engine.Run(context.Background(), syncer.TriggerManual)
	if !report.Cleanup || report.Remaining != 2 {
		t.Fatalf("expected cleanup failure with entries kept, got %#v", report)
	}
	if got := len(h.fb.Requests()); got != 1 {
		t.Fatalf("expected run to stop after the first replay, got %d", got)
	}
	blocking := h.journal.Blocking()
	if len(blocking) != 1 || blocking[0].Event != notifications.EventCleanupFailed {
		t.Fatalf("expected blocking cleanup warning, got %#v", blocking)
	}
}

func TestTriggerUpdatesStatus(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.enqueue(t, 1, "tok-A")

	done := make(chan syncer.Status, 4)
	h.engine.Subscribe(func(s syncer.Status) {
		if !s.Running {
			done <- s
		}
	})
	h.engine.Trigger(syncer.TriggerManual) // ignored before Start
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)
	h.engine.Trigger(syncer.TriggerOnline)

	select {
	case status := <-done:
		if status.LastTrigger != syncer.TriggerOnline || status.LastReport == nil || !status.LastReport.Drained {
			t.Fatalf("unexpected status %#v", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for triggered run")
	}
	if got := h.engine.Status(); got.Running || got.Pending != 0 {
		t.Fatalf("unexpected final status %#v", got)
	}
}

func TestOfflineAttendanceRoundTrip(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	fb := testsupport.NewFakeBackend(t, nil)
	fb.SetResponder(func(testsupport.RecordedRequest) (int, string) {
		if down.Load() {
			return http.StatusServiceUnavailable, "{}"
		}
		return http.StatusCreated, `{"id":1}`
	})
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fb.URL))
	store := testsupport.MustOpenStore(t, cfg)
	session := fakeSession{token: "tok-A"}
	monitor := connectivity.NewMonitor(cfg, nil, nil)
	client := interceptor.NewClient(cfg, interceptor.Deps{
		Credentials: session,
		Offline:     interceptor.Options{Store: store, Connectivity: monitor, Session: session},
	})

	resp, err := client.Post(fb.URL+"/api/attendance/", "application/json", strings.NewReader(`{"student":"S1","status":"ABSENT"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if !interceptor.IsOfflineResponse(resp) {
		t.Fatal("expected synthetic offline response")
	}
	pending, _ := store.ListPending(context.Background())
	if len(pending) != 1 || pending[0].Body.Text != `{"student":"S1","status":"ABSENT"}` {
		t.Fatalf("expected attendance entry queued, got %#v", pending)
	}

	down.Store(false)
	engine := syncer.NewEngine(cfg, syncer.Options{Store: store, Session: session, Notifier: notifications.NewJournal(nil, 1)})
	report := engine.Run(context.Background(), syncer.TriggerOnline)
	if !report.Drained || report.Synced != 1 {
		t.Fatalf("expected drained run, got %#v", report)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatalf("expected pending count 0, got %d", n)
	}
}

func TestReplayBypassesInterceptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, srv.URL+"/api/x/", "tok-A", `{}`)

	engine := syncer.NewEngine(cfg, syncer.Options{Store: store, Session: fakeSession{token: "tok-A"}, Notifier: notifications.NewJournal(nil, 1)})
	report := engine.Run(context.Background(), syncer.TriggerManual)
	if report.Remaining != 1 {
		t.Fatalf("expected the entry kept, got %#v", report)
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Fatalf("a failed replay must not enqueue a duplicate, got %d entries", n)
	}
}
