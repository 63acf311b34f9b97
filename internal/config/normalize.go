package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	c.normalizeOutbox()
	c.normalizeSync()
	c.normalizeConnectivity()
	c.normalizeWorker()
	c.normalizeManifest()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("SCHOOLSYNC_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeBackend() {
	if value, ok := os.LookupEnv("SCHOOLSYNC_BACKEND_URL"); ok && strings.TrimSpace(value) != "" {
		c.Backend.BaseURL = value
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBackendBaseURL
	}
	c.Backend.SyncPath = normalizeRoute(c.Backend.SyncPath, defaultSyncPath)
	c.Backend.ManifestPath = normalizeRoute(c.Backend.ManifestPath, defaultManifestPath)
	c.Backend.VerifyPath = normalizeRoute(c.Backend.VerifyPath, defaultVerifyPath)
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = defaultRequestTimeout
	}
	c.Backend.AuthScheme = strings.TrimSpace(c.Backend.AuthScheme)
	if c.Backend.AuthScheme == "" {
		c.Backend.AuthScheme = defaultAuthScheme
	}
	c.Backend.CSRFHeader = strings.TrimSpace(c.Backend.CSRFHeader)
	if c.Backend.CSRFHeader == "" {
		c.Backend.CSRFHeader = defaultCSRFHeader
	}
	c.Backend.DeviceHeader = strings.TrimSpace(c.Backend.DeviceHeader)
	if c.Backend.DeviceHeader == "" {
		c.Backend.DeviceHeader = defaultDeviceHeader
	}
}

func (c *Config) normalizeOutbox() {
	if c.Outbox.MaxEntries < 0 {
		c.Outbox.MaxEntries = 0
	}
	if c.Outbox.MaxBytes < 0 {
		c.Outbox.MaxBytes = 0
	}
	if c.Outbox.MaxRequestBytes <= 0 {
		c.Outbox.MaxRequestBytes = defaultOutboxMaxRequestBytes
	}
}

func (c *Config) normalizeSync() {
	c.Sync.Mode = strings.ToLower(strings.TrimSpace(c.Sync.Mode))
	if c.Sync.Mode == "" {
		c.Sync.Mode = defaultSyncMode
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = defaultSyncBatchSize
	}
	if c.Sync.Interval < 0 {
		c.Sync.Interval = 0
	}
	if len(c.Sync.RetryableClientStatuses) > 0 {
		seen := make(map[int]struct{}, len(c.Sync.RetryableClientStatuses))
		statuses := make([]int, 0, len(c.Sync.RetryableClientStatuses))
		for _, status := range c.Sync.RetryableClientStatuses {
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
		sort.Ints(statuses)
		c.Sync.RetryableClientStatuses = statuses
	}
}

func (c *Config) normalizeConnectivity() {
	c.Connectivity.ProbePath = normalizeRoute(c.Connectivity.ProbePath, defaultProbePath)
	if c.Connectivity.ProbeInterval <= 0 {
		c.Connectivity.ProbeInterval = defaultProbeInterval
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		c.Connectivity.ProbeTimeout = defaultProbeTimeout
	}
}

func (c *Config) normalizeWorker() {
	c.Worker.Bind = strings.TrimSpace(c.Worker.Bind)
	c.Worker.CacheName = strings.TrimSpace(c.Worker.CacheName)
	if c.Worker.CacheName == "" {
		c.Worker.CacheName = defaultCacheName
	}
	if c.Worker.CacheVersion <= 0 {
		c.Worker.CacheVersion = defaultCacheVersion
	}
	c.Worker.Precache = dedupeTrimmed(c.Worker.Precache)
	c.Worker.BypassPrefixes = dedupeTrimmed(c.Worker.BypassPrefixes)
	c.Worker.LandingPage = normalizeRoute(c.Worker.LandingPage, defaultLandingPage)
	if c.Worker.InstallConcurrency <= 0 {
		c.Worker.InstallConcurrency = defaultInstallConcurrency
	}
}

func (c *Config) normalizeManifest() {
	if c.Manifest.RefreshInterval < 0 {
		c.Manifest.RefreshInterval = 0
	}
	c.Manifest.RecordsKey = strings.TrimSpace(c.Manifest.RecordsKey)
	c.Manifest.NameFields = dedupeTrimmed(c.Manifest.NameFields)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SCHOOLSYNC_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeRoute(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}

func dedupeTrimmed(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
