package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schoolsync/internal/backend"
	"schoolsync/internal/connectivity"
	"schoolsync/internal/logging"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
)

// QueuedHeader is set on synthetic responses and carries the outbox id.
const QueuedHeader = "X-Offline-Queued"

// OfflineMessage is the message field of the synthetic response.
const OfflineMessage = "Saved offline. The change will be sent when the connection returns."

// Enqueuer persists a mutation.
type Enqueuer interface {
	Enqueue(ctx context.Context, req outbox.Request) (int64, error)
}

// Connectivity is the part of the connectivity monitor the interceptor needs.
type Connectivity interface {
	Online() bool
	Report(online bool, source string)
}

// TokenProvider returns the active session token.
type TokenProvider interface {
	Token() string
}

// Options configures OfflineFallback.
type Options struct {
	Store           Enqueuer
	Connectivity    Connectivity
	Session         TokenProvider
	Notifier        notifications.Service
	Logger          *slog.Logger
	MaxRequestBytes int64
	NotifyTimeout   time.Duration
}

var errNoResponse = errors.New("transport returned no response")

// OfflineResponse is the JSON body of the synthetic 202.
type OfflineResponse struct {
	Message  string `json:"message"`
	Offline  bool   `json:"offline"`
	QueuedID int64  `json:"queued_id"`
}

// skipped when capturing headers for replay
var volatileHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"X-Forwarded-For":   {},
	"X-Forwarded-Host":  {},
	"X-Forwarded-Proto": {},
	"Forwarded":         {},
}

// OfflineFallback queues eligible mutations when the backend is unreachable.
func OfflineFallback(opts Options) Middleware {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	opts.Logger = logging.NewComponentLogger(opts.Logger, "interceptor")
	return func(next http.RoundTripper) http.RoundTripper {
		f := &offlineFallback{opts: opts, next: next}
		return RoundTripperFunc(f.roundTrip)
	}
}

type offlineFallback struct {
	opts Options
	next http.RoundTripper
}

type capturedBody struct {
	data      []byte
	oversized bool
}

func (f *offlineFallback) roundTrip(req *http.Request) (*http.Response, error) {
	if !outbox.Eligible(req.Method) || f.opts.Store == nil {
		return f.attempt(req)
	}

	out, captured, err := f.bufferBody(req)
	if err != nil {
		return nil, err
	}

	// set when the known-offline enqueue failed; the write is not retried below
	var saveErr error
	if f.opts.Connectivity != nil && !f.opts.Connectivity.Online() && !captured.oversized {
		resp, err := f.enqueue(req, captured, "offline")
		if err == nil {
			return resp, nil
		}
		saveErr = err
	}

	resp, err := f.attempt(out)
	if !failed(resp, err) {
		return resp, err
	}
	if resp == nil && err == nil {
		err = errNoResponse
	}
	if err != nil && req.Context().Err() != nil {
		// caller gave up
		return nil, err
	}
	if captured.oversized {
		logging.WarnWithContext(f.opts.Logger, "request too large to queue offline", "outbox_oversized",
			logging.String("method", req.Method),
			logging.String("url", req.URL.String()),
			logging.Int64("limit_bytes", f.opts.MaxRequestBytes),
			logging.String(logging.FieldImpact, "the change was not saved"),
		)
		return resp, err
	}
	if saveErr != nil {
		return notSaved(resp, err, saveErr)
	}

	reason := "network error"
	if err == nil {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	queued, saveErr := f.enqueue(req, captured, reason)
	if saveErr != nil {
		return notSaved(resp, err, saveErr)
	}
	backend.DrainAndClose(resp)
	return queued, nil
}

// notSaved passes a 5xx through untouched. A transport error is joined with
// the reason the write could not be queued.
func notSaved(resp *http.Response, err, saveErr error) (*http.Response, error) {
	if err == nil {
		return resp, nil
	}
	return nil, fmt.Errorf("%w (not saved offline: %w)", err, saveErr)
}

// attempt sends req and reports reachability.
func (f *offlineFallback) attempt(req *http.Request) (*http.Response, error) {
	resp, err := f.next.RoundTrip(req)
	if f.opts.Connectivity != nil && req.Context().Err() == nil {
		f.opts.Connectivity.Report(!failed(resp, err), connectivity.SourceInterceptor)
	}
	return resp, err
}

func failed(resp *http.Response, err error) bool {
	return err != nil || resp == nil || resp.StatusCode >= http.StatusInternalServerError
}

// bufferBody reads the body so it can be both sent and stored. Bodies over the
// limit are streamed through unqueued.
func (f *offlineFallback) bufferBody(req *http.Request) (*http.Request, capturedBody, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, capturedBody{}, nil
	}
	limit := f.opts.MaxRequestBytes
	reader := io.Reader(req.Body)
	if limit > 0 {
		reader = io.LimitReader(req.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		_ = req.Body.Close()
		return nil, capturedBody{}, fmt.Errorf("read request body: %w", err)
	}

	out := req.Clone(req.Context())
	if limit > 0 && int64(len(data)) > limit {
		rest := req.Body
		out.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), rest), rest}
		out.GetBody = nil
		return out, capturedBody{oversized: true}, nil
	}
	_ = req.Body.Close()
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.ContentLength = int64(len(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, capturedBody{data: data}, nil
}

func (f *offlineFallback) enqueue(req *http.Request, captured capturedBody, reason string) (*http.Response, error) {
	ctx := req.Context()
	logger := logging.WithContext(ctx, f.opts.Logger)

	body, err := outbox.NormalizeBody(req.Header.Get("Content-Type"), captured.data)
	if err != nil {
		logging.ErrorWithContext(logger, "could not normalize request body", "outbox_normalize_failed",
			logging.Error(err),
			logging.String("method", req.Method),
			logging.String("url", req.URL.String()),
		)
		return nil, fmt.Errorf("normalize body: %w", err)
	}

	entry := outbox.Request{
		URL:     req.URL.String(),
		Method:  req.Method,
		Headers: captureHeaders(req.Header),
		Body:    body,
	}
	if f.opts.Session != nil {
		entry.SessionToken = f.opts.Session.Token()
	}

	id, err := f.opts.Store.Enqueue(ctx, entry)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to queue request offline", "outbox_enqueue_failed",
			logging.Error(err),
			logging.String("method", req.Method),
			logging.String("url", req.URL.String()),
			logging.String("reason", reason),
			logging.String(logging.FieldImpact, "the change was not saved"),
			logging.String(logging.FieldErrorHint, "free space or sync pending changes, then retry"),
		)
		if errors.Is(err, outbox.ErrStorageFull) {
			f.publishBlocking(notifications.EventStorageFull, notifications.Payload{
				"method": req.Method,
				"url":    req.URL.String(),
				"error":  err,
			})
		}
		return nil, err
	}

	logger.Info("request saved offline",
		logging.QueuedID(id),
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.String("reason", reason),
	)
	notifications.PublishAsync(f.opts.Notifier, notifications.EventSavedOffline, notifications.Payload{
		"method":    req.Method,
		"url":       req.URL.Path,
		"queued_id": id,
	}, f.opts.NotifyTimeout, func(err error) {
		f.opts.Logger.Debug("saved-offline notification failed", logging.Error(err))
	})
	return syntheticResponse(req, id), nil
}

// publishBlocking runs synchronously so the warning is recorded before the
// caller sees the failure.
func (f *offlineFallback) publishBlocking(event notifications.Event, payload notifications.Payload) {
	if f.opts.Notifier == nil {
		return
	}
	timeout := f.opts.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := f.opts.Notifier.Publish(ctx, event, payload); err != nil {
		f.opts.Logger.Warn("blocking notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func captureHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if _, skip := volatileHeaders[http.CanonicalHeaderKey(name)]; skip || len(values) == 0 {
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func syntheticResponse(req *http.Request, id int64) *http.Response {
	payload, _ := json.Marshal(OfflineResponse{Message: OfflineMessage, Offline: true, QueuedID: id})
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(QueuedHeader, strconv.FormatInt(id, 10))
	return &http.Response{
		Status:        "202 Accepted",
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}
}

// IsOfflineResponse reports whether resp was produced by OfflineFallback.
func IsOfflineResponse(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(QueuedHeader) != ""
}
