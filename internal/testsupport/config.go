package testsupport

import (
	"path/filepath"
	"testing"

	"schoolsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Worker.Bind = "127.0.0.1:0"
	cfgVal.Backend.RequestTimeout = 5
	cfgVal.Connectivity.ProbeInterval = 1
	cfgVal.Connectivity.ProbeTimeout = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithBackendURL points the config at a test server.
func WithBackendURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.BaseURL = url
	}
}

// WithOutboxQuota overrides the outbox entry and byte limits.
func WithOutboxQuota(entries int, bytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Outbox.MaxEntries = entries
		b.cfg.Outbox.MaxBytes = bytes
		if bytes > 0 && b.cfg.Outbox.MaxRequestBytes > bytes {
			b.cfg.Outbox.MaxRequestBytes = bytes
		}
	}
}

// WithSyncMode selects replay or bulk draining.
func WithSyncMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.Mode = mode
	}
}

// WithPrecache replaces the worker precache list.
func WithPrecache(paths ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Precache = append([]string(nil), paths...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
