package outbox

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrStorageFull reports that the outbox quota or the underlying disk is exhausted.
	ErrStorageFull = errors.New("outbox storage full")
	// ErrInvalidMethod rejects methods that may not be queued.
	ErrInvalidMethod = errors.New("method not eligible for outbox")
	// ErrInvalidRequest rejects entries missing required fields.
	ErrInvalidRequest = errors.New("invalid outbox request")
)

// Request is one pending mutation.
type Request struct {
	ID             int64
	URL            string
	Method         string
	Headers        map[string]string
	Body           Body
	Timestamp      time.Time
	SessionToken   string
	IdempotencyKey string
}

// Manifest is the singleton offline reference snapshot.
type Manifest struct {
	Data      []byte
	SHA256    string
	FetchedAt time.Time
}

// Usage summarizes outbox occupancy against its quota.
type Usage struct {
	Entries    int   `json:"entries"`
	Bytes      int64 `json:"bytes"`
	MaxEntries int   `json:"max_entries"`
	MaxBytes   int64 `json:"max_bytes"`
}

// Eligible reports whether method may be stored in the outbox.
func Eligible(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Header returns a captured header value using case-insensitive lookup.
func (r Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	canonical := http.CanonicalHeaderKey(name)
	for k, v := range r.Headers {
		if http.CanonicalHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}

// HTTPHeader converts the captured headers into an http.Header.
func (r Request) HTTPHeader() http.Header {
	h := make(http.Header, len(r.Headers))
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	return h
}
