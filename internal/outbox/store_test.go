package outbox_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"schoolsync/internal/outbox"
	"schoolsync/internal/testsupport"
)

func TestEnqueueListRemoveRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, outbox.Request{
		URL:          "http://school.test/api/attendance",
		Method:       "post",
		Headers:      map[string]string{"X-CSRFToken": "csrf-1", "X-Device-ID": "dev-1"},
		Body:         outbox.Body{Kind: outbox.BodyJSON, ContentType: "application/json", Text: `{"student":"S1","status":"ABSENT"}`},
		SessionToken: "A",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected id to be assigned")
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending entry, got %d", len(pending))
	}
	got := pending[0]
	if got.ID != id || got.Method != http.MethodPost {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.Header("x-csrftoken") != "csrf-1" {
		t.Fatalf("expected csrf header captured, got %q", got.Header("X-CSRFToken"))
	}
	if got.IdempotencyKey == "" || got.Header(outbox.IdempotencyHeader) != got.IdempotencyKey {
		t.Fatalf("expected idempotency key header, got %#v", got.Headers)
	}
	if got.Body.Text != `{"student":"S1","status":"ABSENT"}` {
		t.Fatalf("unexpected body %q", got.Body.Text)
	}
	if got.SessionToken != "A" {
		t.Fatalf("unexpected session token %q", got.SessionToken)
	}
	if time.Since(got.Timestamp) > time.Minute {
		t.Fatalf("unexpected timestamp %v", got.Timestamp)
	}

	if err := store.Remove(ctx, id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ids := testsupport.PendingIDs(t, store); len(ids) != 0 {
		t.Fatalf("expected empty outbox, got %v", ids)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.MustEnqueue(t, store, "http://school.test/a", "A", `{}`)
	second := testsupport.MustEnqueue(t, store, "http://school.test/b", "A", `{}`)

	for i := 0; i < 2; i++ {
		if err := store.Remove(ctx, first); err != nil {
			t.Fatalf("Remove #%d failed: %v", i+1, err)
		}
	}
	if err := store.Remove(ctx, 9999); err != nil {
		t.Fatalf("Remove of absent id failed: %v", err)
	}
	ids := testsupport.PendingIDs(t, store)
	if len(ids) != 1 || ids[0] != second {
		t.Fatalf("expected only second entry to remain, got %v", ids)
	}
}

func TestListPendingPreservesInsertionOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var want []int64
	for i := 0; i < 10; i++ {
		want = append(want, testsupport.MustEnqueue(t, store, "http://school.test/x", "A", `{}`))
	}
	got := testsupport.PendingIDs(t, store)
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
		if i > 0 && got[i] <= got[i-1] {
			t.Fatalf("ids not increasing: %v", got)
		}
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id := testsupport.MustEnqueue(t, store, "http://school.test/x", "A", `{}`)
	if err := store.Remove(ctx, id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	next := testsupport.MustEnqueue(t, store, "http://school.test/y", "A", `{}`)
	if next <= id {
		t.Fatalf("expected id greater than %d, got %d", id, next)
	}
}

func TestEnqueueRejectsReadMethods(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, ""} {
		_, err := store.Enqueue(context.Background(), outbox.Request{URL: "http://school.test/", Method: method})
		if !errors.Is(err, outbox.ErrInvalidMethod) {
			t.Fatalf("method %q: expected ErrInvalidMethod, got %v", method, err)
		}
	}
}

func TestEnqueueEnforcesQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutboxQuota(2, 0))
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.MustEnqueue(t, store, "http://school.test/1", "A", `{}`)
	testsupport.MustEnqueue(t, store, "http://school.test/2", "A", `{}`)
	_, err := store.Enqueue(context.Background(), outbox.Request{URL: "http://school.test/3", Method: http.MethodPost})
	if !errors.Is(err, outbox.ErrStorageFull) {
		t.Fatalf("expected ErrStorageFull, got %v", err)
	}
	if ids := testsupport.PendingIDs(t, store); len(ids) != 2 {
		t.Fatalf("expected quota to leave existing entries intact, got %v", ids)
	}

	cfg = testsupport.NewConfig(t, testsupport.WithOutboxQuota(0, 64))
	small := testsupport.MustOpenStore(t, cfg)
	_, err = small.Enqueue(context.Background(), outbox.Request{
		URL:    "http://school.test/big",
		Method: http.MethodPost,
		Body:   outbox.Body{Kind: outbox.BodyText, Text: string(bytes.Repeat([]byte("x"), 256))},
	})
	if !errors.Is(err, outbox.ErrStorageFull) {
		t.Fatalf("expected byte quota to trip, got %v", err)
	}
}

func TestUsageReportsQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutboxQuota(10, 1<<20))
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "http://school.test/1", "A", `{"a":1}`)

	usage, err := store.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage.Entries != 1 || usage.Bytes <= 0 || usage.MaxEntries != 10 || usage.MaxBytes != 1<<20 {
		t.Fatalf("unexpected usage %#v", usage)
	}
}

func TestManifestReplaceOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	m, err := store.LoadManifest(ctx)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no manifest, got %#v", m)
	}

	if err := store.SaveManifest(ctx, []byte(`{"students":[1]}`)); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}
	if err := store.SaveManifest(ctx, []byte(`{"students":[2]}`)); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}
	m, err = store.LoadManifest(ctx)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m == nil || string(m.Data) != `{"students":[2]}` {
		t.Fatalf("expected latest manifest, got %#v", m)
	}
	if len(m.SHA256) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", m.SHA256)
	}
}

func TestSettingsPersistAcrossReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := outbox.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.SaveSetting(ctx, "device_id", "dev-1"); err != nil {
		t.Fatalf("SaveSetting failed: %v", err)
	}
	testsupport.MustEnqueue(t, store, "http://school.test/1", "A", `{}`)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	value, ok, err := reopened.LoadSetting(ctx, "device_id")
	if err != nil || !ok || value != "dev-1" {
		t.Fatalf("unexpected setting value=%q ok=%v err=%v", value, ok, err)
	}
	if n, err := reopened.Count(ctx); err != nil || n != 1 {
		t.Fatalf("expected queued entry to survive reopen, n=%d err=%v", n, err)
	}
	if err := reopened.DeleteSetting(ctx, "device_id"); err != nil {
		t.Fatalf("DeleteSetting failed: %v", err)
	}
	if _, ok, _ := reopened.LoadSetting(ctx, "device_id"); ok {
		t.Fatal("expected setting to be deleted")
	}
}

func TestClearRemovesEverything(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	for i := 0; i < 3; i++ {
		testsupport.MustEnqueue(t, store, "http://school.test/x", "A", `{}`)
	}
	removed, err := store.Clear(context.Background())
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
}

func TestExportImportPreservesOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustEnqueue(t, store, "http://school.test/1", "A", `{"n":1}`)
	if _, err := store.Enqueue(ctx, outbox.Request{
		URL:          "http://school.test/students/",
		Method:       http.MethodPost,
		SessionToken: "A",
		Body: outbox.Body{Kind: outbox.BodyForm, ContentType: "multipart/form-data", Form: []outbox.FormField{
			{Name: "first_name", Value: "Awa"},
			{Name: "photo_path", File: &outbox.FormFile{Filename: "a.png", ContentType: "image/png", Data: "aGVsbG8="}},
		}},
	}); err != nil {
		t.Fatalf("Enqueue form failed: %v", err)
	}

	var buf bytes.Buffer
	n, err := store.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported, got %d", n)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`data:image/png;base64,aGVsbG8=`)) {
		t.Fatalf("expected file part rendered as data URL: %s", buf.String())
	}

	target := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	imported, err := target.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected 2 imported, got %d", imported)
	}
	pending, err := target.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if pending[0].URL != "http://school.test/1" || pending[0].Body.Kind != outbox.BodyJSON {
		t.Fatalf("unexpected first entry %#v", pending[0])
	}
	form := pending[1].Body
	if form.Kind != outbox.BodyForm || len(form.Form) != 2 {
		t.Fatalf("unexpected form body %#v", form)
	}
	var photo *outbox.FormFile
	for _, field := range form.Form {
		if field.Name == "photo_path" {
			photo = field.File
		}
	}
	if photo == nil || photo.Data != "aGVsbG8=" || photo.ContentType != "image/png" {
		t.Fatalf("expected photo to round-trip, got %#v", photo)
	}
	if pending[1].SessionToken != "A" {
		t.Fatalf("expected session token preserved, got %q", pending[1].SessionToken)
	}
}
