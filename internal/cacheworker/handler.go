package cacheworker

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"schoolsync/internal/logging"
)

const offlinePage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>%s is not available offline yet. Changes you make are saved and will sync when the connection returns.</p></body></html>
`

// ServeHTTP routes GET traffic through the cache. Writes and API calls go to
// next untouched.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || w.bypassed(r.URL.Path) {
		rw.Header().Set(CacheHeader, CacheBypass)
		w.next.ServeHTTP(rw, r)
		return
	}
	if isNavigation(r) {
		w.serveNavigation(rw, r)
		return
	}
	w.serveAsset(rw, r)
}

func (w *Worker) bypassed(path string) bool {
	for _, prefix := range w.cfg.BypassPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isNavigation(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// serveNavigation is network-first. When the network fails it falls back to
// the cached page, then the cached landing page, then a static offline page.
func (w *Worker) serveNavigation(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.URL.RequestURI()
	target := w.baseURL.ResolveReference(r.URL)

	entry, err := w.fetch(ctx, target, r.Header)
	if err == nil {
		w.remember(ctx, w.Served(), key, entry)
		writeEntry(rw, entry, CacheMiss)
		return
	}
	w.logger.Debug("navigation fetch failed",
		logging.String("url", key),
		logging.Error(err),
	)

	if cached := w.lookup(ctx, key); cached != nil {
		writeEntry(rw, cached, CacheStale)
		return
	}
	if landing := w.cfg.LandingPage; landing != "" && landing != key {
		if cached := w.lookup(ctx, landing); cached != nil {
			writeEntry(rw, cached, CacheFallback)
			return
		}
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set(CacheHeader, CacheFallback)
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = fmt.Fprintf(rw, offlinePage, html.EscapeString(key))
}

// serveAsset is stale-while-revalidate: a cached copy is served at once and
// refreshed in the background; without one the network answers directly.
func (w *Worker) serveAsset(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.URL.RequestURI()

	if cached := w.lookup(ctx, key); cached != nil {
		writeEntry(rw, cached, CacheHit)
		w.revalidate(cached.Generation, key, w.baseURL.ResolveReference(r.URL), r.Header.Clone())
		return
	}

	target := w.baseURL.ResolveReference(r.URL)
	entry, err := w.fetch(ctx, target, r.Header)
	if err != nil {
		w.logger.Debug("asset fetch failed",
			logging.String("url", key),
			logging.Error(err),
		)
		rw.Header().Set(CacheHeader, CacheMiss)
		http.Error(rw, "offline and not cached", http.StatusServiceUnavailable)
		return
	}
	w.remember(ctx, w.Served(), key, entry)
	writeEntry(rw, entry, CacheMiss)
}

// revalidate refreshes key in the background, once per key at a time. The
// result is dropped when generation stopped being served meanwhile.
func (w *Worker) revalidate(generation, key string, target *url.URL, header http.Header) {
	if w.bgCtx.Err() != nil {
		return
	}
	w.bgWG.Add(1)
	go func() {
		defer w.bgWG.Done()
		_, _, _ = w.refresh.Do(key, func() (any, error) {
			entry, err := w.fetch(w.bgCtx, target, header)
			if err != nil {
				w.logger.Debug("background refresh failed",
					logging.String("url", key),
					logging.Error(err),
				)
				return nil, err
			}
			w.remember(w.bgCtx, generation, key, entry)
			return nil, nil
		})
	}()
}

// lookup reads key from the served generation.
func (w *Worker) lookup(ctx context.Context, key string) *Entry {
	generation := w.Served()
	if generation == "" {
		return nil
	}
	entry, err := w.store.Get(ctx, generation, key)
	if err != nil {
		w.logger.Warn("asset cache read failed",
			logging.String("url", key),
			logging.String(logging.FieldGeneration, generation),
			logging.Error(err),
			logging.String(logging.FieldEventType, "asset_cache_read_failed"),
			logging.String(logging.FieldErrorHint, "delete assets.db if the file is corrupt"),
		)
		return nil
	}
	return entry
}

// remember stores a cacheable response in generation if it is still the one
// being served. Storage failures only cost a future cache hit.
func (w *Worker) remember(ctx context.Context, generation, key string, entry *Entry) {
	if generation == "" || generation != w.Served() || !cacheable(entry) {
		return
	}
	stored := *entry
	stored.Generation = generation
	stored.URL = key
	if err := w.store.Put(ctx, stored); err != nil {
		w.logger.Warn("asset cache write failed",
			logging.String("url", key),
			logging.String(logging.FieldGeneration, generation),
			logging.Error(err),
		)
	}
}

func writeEntry(rw http.ResponseWriter, e *Entry, source string) {
	h := rw.Header()
	for name, values := range e.Header {
		h[name] = append([]string(nil), values...)
	}
	h.Set(CacheHeader, source)
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	if source != CacheMiss && !e.StoredAt.IsZero() {
		h.Set("Age", strconv.Itoa(max(0, int(time.Since(e.StoredAt).Seconds()))))
	}
	rw.WriteHeader(e.Status)
	_, _ = rw.Write(e.Body)
}
