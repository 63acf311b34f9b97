package cacheworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
	"schoolsync/internal/logging"
)

// CacheHeader reports how a response was produced.
const CacheHeader = "X-Cache"

// Values of CacheHeader.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheStale    = "stale"
	CacheFallback = "fallback"
	CacheBypass   = "bypass"
)

const maxAssetBytes = 32 << 20

// headers worth replaying from the cache
var storedHeaders = []string{
	"Cache-Control",
	"Content-Language",
	"Content-Type",
	"ETag",
	"Last-Modified",
	"Vary",
}

// Worker serves GET traffic from a versioned cache and hands everything else to next.
type Worker struct {
	cfg        config.Worker
	baseURL    *url.URL
	store      *Store
	upstream   http.RoundTripper
	next       http.Handler
	logger     *slog.Logger
	generation string
	timeout    time.Duration

	refresh singleflight.Group

	mu     sync.RWMutex
	served string

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New builds a worker for the configured generation. It serves whichever
// generation is already active until Activate runs.
func New(cfg *config.Config, store *Store, upstream http.RoundTripper, next http.Handler, logger *slog.Logger) (*Worker, error) {
	if store == nil {
		return nil, errors.New("cache worker requires an asset store")
	}
	base, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	if next == nil {
		next = http.NotFoundHandler()
	}
	served, err := store.ActiveGeneration(context.Background())
	if err != nil {
		return nil, err
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:        cfg.Worker,
		baseURL:    base,
		store:      store,
		upstream:   upstream,
		next:       next,
		logger:     logging.NewComponentLogger(logger, "cacheworker"),
		generation: cfg.CacheGeneration(),
		timeout:    cfg.RequestTimeout(),
		served:     served,
		bgCtx:      bgCtx,
		bgCancel:   cancel,
	}, nil
}

// Generation returns the generation this worker installs.
func (w *Worker) Generation() string { return w.generation }

// Served returns the generation currently answering requests.
func (w *Worker) Served() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.served
}

// Close stops background refreshes.
func (w *Worker) Close() {
	w.bgCancel()
	w.bgWG.Wait()
}

// InstallReport summarizes precaching.
type InstallReport struct {
	Generation string            `json:"generation"`
	Cached     []string          `json:"cached"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// Install precaches the configured assets into this worker's generation. One
// asset failing never stops the others; failures are reported, not returned.
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	report := InstallReport{Generation: w.generation, Failed: map[string]string{}}
	if err := w.store.EnsureGeneration(ctx, w.generation); err != nil {
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.cfg.InstallConcurrency, 1))
	for _, asset := range w.cfg.Precache {
		g.Go(func() error {
			err := w.precache(gctx, asset)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[asset] = err.Error()
				w.logger.Warn("precache failed",
					logging.String("asset", asset),
					logging.String(logging.FieldGeneration, w.generation),
					logging.Error(err),
				)
				return nil
			}
			report.Cached = append(report.Cached, asset)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if err := w.store.MarkInstalled(ctx, w.generation); err != nil {
		return report, err
	}
	w.logger.Info("cache generation installed",
		logging.String(logging.FieldGeneration, w.generation),
		logging.Int("cached", len(report.Cached)),
		logging.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (w *Worker) precache(ctx context.Context, asset string) error {
	target, key, err := w.resolve(asset)
	if err != nil {
		return err
	}
	entry, err := w.fetch(ctx, target, nil)
	if err != nil {
		return err
	}
	if entry.Status != http.StatusOK {
		return fmt.Errorf("status %d", entry.Status)
	}
	entry.Generation = w.generation
	entry.URL = key
	return w.store.Put(ctx, *entry)
}

// ActivateReport summarizes activation.
type ActivateReport struct {
	Generation string   `json:"generation"`
	Deleted    []string `json:"deleted,omitempty"`
}

// Activate deletes every other generation and starts serving this one
// immediately.
func (w *Worker) Activate(ctx context.Context) (ActivateReport, error) {
	deleted, err := w.store.Activate(ctx, w.generation)
	if err != nil {
		return ActivateReport{Generation: w.generation}, err
	}
	w.mu.Lock()
	previous := w.served
	w.served = w.generation
	w.mu.Unlock()
	w.logger.Info("cache generation activated",
		logging.String(logging.FieldGeneration, w.generation),
		logging.String("previous", previous),
		logging.Any("deleted", deleted),
	)
	return ActivateReport{Generation: w.generation, Deleted: deleted}, nil
}

// Start installs then activates without waiting for old clients to go away.
func (w *Worker) Start(ctx context.Context) (InstallReport, ActivateReport, error) {
	install, err := w.Install(ctx)
	if err != nil {
		return install, ActivateReport{}, err
	}
	activate, err := w.Activate(ctx)
	return install, activate, err
}

// Generations lists stored generations.
func (w *Worker) Generations(ctx context.Context) ([]Generation, error) {
	return w.store.Generations(ctx)
}

// resolve turns a precache path or absolute URL into a fetch target and cache key.
func (w *Worker) resolve(raw string) (*url.URL, string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", fmt.Errorf("parse %q: %w", raw, err)
	}
	target := w.baseURL.ResolveReference(ref)
	return target, w.cacheKey(target), nil
}

// cacheKey is the request URI for backend URLs and the full URL otherwise.
func (w *Worker) cacheKey(u *url.URL) string {
	if u.Host == "" || (u.Scheme == w.baseURL.Scheme && u.Host == w.baseURL.Host) {
		return u.RequestURI()
	}
	return u.String()
}

// fetch performs a GET against the upstream and buffers the response.
func (w *Worker) fetch(ctx context.Context, target *url.URL, incoming http.Header) (*Entry, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"Accept", "Accept-Language", "Cookie", "Authorization"} {
		if v := incoming.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	req.Header.Set("User-Agent", backend.UserAgent)
	resp, err := w.upstream.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if len(body) > maxAssetBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", target, maxAssetBytes)
	}
	header := make(http.Header)
	for _, name := range storedHeaders {
		if values := resp.Header.Values(name); len(values) > 0 {
			header[name] = append([]string(nil), values...)
		}
	}
	return &Entry{Status: resp.StatusCode, Header: header, Body: body, StoredAt: time.Now().UTC()}, nil
}

func cacheable(e *Entry) bool {
	if e == nil || e.Status != http.StatusOK {
		return false
	}
	return !strings.Contains(strings.ToLower(e.Header.Get("Cache-Control")), "no-store")
}
