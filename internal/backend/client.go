package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"schoolsync/internal/config"
)

// UserAgent identifies schoolsync to the backend.
const UserAgent = "schoolsync/1.0"

const maxErrorBody = 2048

// Credentials carries the identity attached to authenticated requests.
type Credentials struct {
	Token     string
	CSRFToken string
	DeviceID  string
}

// Apply sets the credential headers on h without overwriting values the caller
// already supplied.
func (c Credentials) Apply(h http.Header, cfg *config.Config) {
	if c.CSRFToken != "" && h.Get(cfg.Backend.CSRFHeader) == "" {
		h.Set(cfg.Backend.CSRFHeader, c.CSRFToken)
	}
	if c.Token != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", cfg.Backend.AuthScheme+" "+c.Token)
	}
	if c.DeviceID != "" && h.Get(cfg.Backend.DeviceHeader) == "" {
		h.Set(cfg.Backend.DeviceHeader, c.DeviceID)
	}
}

// Client issues requests against the backend using a caller-supplied transport.
type Client struct {
	cfg  *config.Config
	http *http.Client
}

// NewClient constructs a backend client. A nil transport uses http.DefaultTransport.
func NewClient(cfg *config.Config, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout()},
	}
}

// Do sends req with the client's timeout and transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	if rid, ok := RequestIDFromContext(req.Context()); ok && req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", rid)
	}
	return c.http.Do(req)
}

// FetchManifest downloads the manifest document.
func (c *Client) FetchManifest(ctx context.Context, creds Credentials) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.Backend.ManifestPath, nil, creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, Wrap(ErrNetworkUnavailable, "backend", "fetch manifest", "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, Wrap(nil, "backend", "fetch manifest", "", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Wrap(ErrNetworkUnavailable, "backend", "fetch manifest", "read body", err)
	}
	return data, nil
}

// PostSync submits a bulk array of queued entries to the sync route. The response
// is returned unread so the caller can classify it; transport failures are returned
// as errors.
func (c *Client) PostSync(ctx context.Context, payload []byte, creds Credentials) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.Backend.SyncPath, bytes.NewReader(payload), creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// Verify checks that the session is still accepted by the backend.
func (c *Client) Verify(ctx context.Context, creds Credentials) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.Backend.VerifyPath, nil, creds)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return Wrap(ErrNetworkUnavailable, "backend", "verify session", "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Wrap(nil, "backend", "verify session", "", err)
	}
	return nil
}

// Probe reports whether the backend answered at all. Any response below 500 counts.
func (c *Client) Probe(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, c.cfg.Connectivity.ProbePath, nil, Credentials{})
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return Wrap(ErrNetworkUnavailable, "backend", "probe", "", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Wrap(ErrServer, "backend", "probe", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, creds Credentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ResolveURL(path), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	creds.Apply(req.Header, c.cfg)
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

// DrainAndClose discards up to a bounded amount of the body so the connection
// can be reused.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
