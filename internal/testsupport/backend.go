package testsupport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest captures one request received by a FakeBackend.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Responder decides the status and body for a recorded request.
type Responder func(RecordedRequest) (int, string)

// FakeBackend is an httptest server that records every request.
type FakeBackend struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []RecordedRequest
	responder Responder
}

// NewFakeBackend starts a recording server. A nil responder answers 200 "{}".
func NewFakeBackend(t testing.TB, responder Responder) *FakeBackend {
	t.Helper()

	fb := &FakeBackend{responder: responder}
	fb.Server = httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *FakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body}

	fb.mu.Lock()
	fb.requests = append(fb.requests, rec)
	responder := fb.responder
	fb.mu.Unlock()

	status, payload := http.StatusOK, "{}"
	if responder != nil {
		status, payload = responder(rec)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

// SetResponder swaps the response policy.
func (fb *FakeBackend) SetResponder(responder Responder) {
	fb.mu.Lock()
	fb.responder = responder
	fb.mu.Unlock()
}

// Requests returns a copy of everything received so far.
func (fb *FakeBackend) Requests() []RecordedRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]RecordedRequest(nil), fb.requests...)
}

// RequestsTo filters recorded requests by method and path.
func (fb *FakeBackend) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, rec := range fb.Requests() {
		if rec.Method == method && rec.Path == path {
			out = append(out, rec)
		}
	}
	return out
}

// StatusSequence answers with the given statuses in order, repeating the last one.
func StatusSequence(statuses ...int) Responder {
	var (
		mu  sync.Mutex
		idx int
	)
	return func(RecordedRequest) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 {
			return http.StatusOK, "{}"
		}
		status := statuses[min(idx, len(statuses)-1)]
		idx++
		return status, "{}"
	}
}
