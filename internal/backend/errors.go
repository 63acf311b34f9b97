package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrServer             = errors.New("server error")
	ErrClient             = errors.New("client error")
	ErrSessionMismatch    = errors.New("session mismatch")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrOffline            = errors.New("offline")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one of
// the exported sentinel errors above. A nil marker is derived from a wrapped
// StatusError, falling back to ErrNetworkUnavailable.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			marker = MarkerForStatus(statusErr.StatusCode)
		}
	}
	if marker == nil {
		marker = ErrNetworkUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("status %d %s: %s", e.StatusCode, text, body)
	}
	return fmt.Sprintf("status %d %s", e.StatusCode, text)
}

// Unwrap maps the status code onto the sentinel taxonomy.
func (e *StatusError) Unwrap() error {
	return MarkerForStatus(e.StatusCode)
}

// MarkerForStatus returns the sentinel describing an HTTP status, or nil for 2xx/3xx.
func MarkerForStatus(code int) error {
	switch {
	case code >= 500:
		return ErrServer
	case code == http.StatusUnauthorized:
		return ErrUnauthenticated
	case code >= 400:
		return ErrClient
	default:
		return nil
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "backend failure"
	}
	return strings.Join(parts, ": ")
}
