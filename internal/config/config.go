package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Backend describes the remote school administration API.
type Backend struct {
	BaseURL        string `toml:"base_url"`
	SyncPath       string `toml:"sync_path"`
	ManifestPath   string `toml:"manifest_path"`
	VerifyPath     string `toml:"verify_path"`
	RequestTimeout int    `toml:"request_timeout"`
	AuthScheme     string `toml:"auth_scheme"`
	CSRFHeader     string `toml:"csrf_header"`
	DeviceHeader   string `toml:"device_header"`
}

// Outbox contains quota settings for the durable request queue.
type Outbox struct {
	MaxEntries      int   `toml:"max_entries"`
	MaxBytes        int64 `toml:"max_bytes"`
	MaxRequestBytes int64 `toml:"max_request_bytes"`
}

// Sync contains settings for draining the outbox.
type Sync struct {
	Mode                    string `toml:"mode"`
	BatchSize               int    `toml:"batch_size"`
	Interval                int    `toml:"interval"`
	SyncOnStart             bool   `toml:"sync_on_start"`
	RetryableClientStatuses []int  `toml:"retryable_client_statuses"`
}

// Connectivity contains reachability probe settings.
type Connectivity struct {
	ProbePath     string `toml:"probe_path"`
	ProbeInterval int    `toml:"probe_interval"`
	ProbeTimeout  int    `toml:"probe_timeout"`
}

// Worker contains configuration for the cache-serving gateway.
type Worker struct {
	Enabled            bool     `toml:"enabled"`
	Bind               string   `toml:"bind"`
	CacheName          string   `toml:"cache_name"`
	CacheVersion       int      `toml:"cache_version"`
	Precache           []string `toml:"precache"`
	BypassPrefixes     []string `toml:"bypass_prefixes"`
	LandingPage        string   `toml:"landing_page"`
	InstallConcurrency int      `toml:"install_concurrency"`
}

// Manifest contains settings for the offline reference snapshot.
type Manifest struct {
	RefreshInterval int      `toml:"refresh_interval"`
	RecordsKey      string   `toml:"records_key"`
	NameFields      []string `toml:"name_fields"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	SavedOffline   bool   `toml:"saved_offline"`
	Synced         bool   `toml:"synced"`
	Connectivity   bool   `toml:"connectivity"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for schoolsync.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and the control API bind address
//   - Backend: remote API endpoints and header names
//   - Outbox: durable queue quotas
//   - Sync: drain mode, batching, and retry classification
//   - Connectivity: reachability probing
//   - Worker: cache-serving gateway and cache generations
//   - Manifest: offline reference snapshot
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Outbox        Outbox        `toml:"outbox"`
	Sync          Sync          `toml:"sync"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Worker        Worker        `toml:"worker"`
	Manifest      Manifest      `toml:"manifest"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("schoolsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// OutboxPath returns the SQLite file backing the outbox.
func (c *Config) OutboxPath() string {
	return filepath.Join(c.Paths.DataDir, "outbox.db")
}

// AssetCachePath returns the SQLite file owned by the cache-serving worker.
func (c *Config) AssetCachePath() string {
	return filepath.Join(c.Paths.DataDir, "assets.db")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "schoolsync.sock")
}

// CacheGeneration returns the versioned cache generation name served by the worker.
func (c *Config) CacheGeneration() string {
	return fmt.Sprintf("%s-v%d", c.Worker.CacheName, c.Worker.CacheVersion)
}

// RequestTimeout returns the backend request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}

// ResolveURL joins a backend-relative path onto the configured base URL.
// Absolute URLs are returned unchanged.
func (c *Config) ResolveURL(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimRight(c.Backend.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
