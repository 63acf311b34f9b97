package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateOutbox(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateManifest(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("backend.base_url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("backend.base_url must include a host")
	}
	if strings.ContainsAny(c.Backend.CSRFHeader, " :") {
		return errors.New("backend.csrf_header must be a bare header name")
	}
	if strings.ContainsAny(c.Backend.DeviceHeader, " :") {
		return errors.New("backend.device_header must be a bare header name")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	if c.Outbox.MaxBytes > 0 && c.Outbox.MaxRequestBytes > c.Outbox.MaxBytes {
		return errors.New("outbox.max_request_bytes must not exceed outbox.max_bytes")
	}
	return nil
}

func (c *Config) validateSync() error {
	switch c.Sync.Mode {
	case SyncModeReplay, SyncModeBulk:
	default:
		return fmt.Errorf("sync.mode must be %q or %q", SyncModeReplay, SyncModeBulk)
	}
	for _, status := range c.Sync.RetryableClientStatuses {
		if status < 400 || status > 499 {
			return fmt.Errorf("sync.retryable_client_statuses must contain 4xx codes, got %d", status)
		}
		if status == 400 || status == 409 {
			return fmt.Errorf("sync.retryable_client_statuses cannot include %d; it is always terminal", status)
		}
	}
	return nil
}

func (c *Config) validateWorker() error {
	if !c.Worker.Enabled {
		return nil
	}
	if c.Worker.Bind == "" {
		return errors.New("worker.bind must be set when worker.enabled is true")
	}
	if _, _, err := net.SplitHostPort(c.Worker.Bind); err != nil {
		return fmt.Errorf("worker.bind must be host:port: %w", err)
	}
	if c.Worker.Bind == c.Paths.APIBind {
		return errors.New("worker.bind must differ from paths.api_bind")
	}
	if strings.ContainsAny(c.Worker.CacheName, " /") {
		return errors.New("worker.cache_name must not contain spaces or slashes")
	}
	for _, prefix := range c.Worker.BypassPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("worker.bypass_prefixes entry %q must start with /", prefix)
		}
	}
	return nil
}

func (c *Config) validateManifest() error {
	if c.Manifest.RecordsKey == "" {
		return errors.New("manifest.records_key must be set")
	}
	if len(c.Manifest.NameFields) == 0 {
		return errors.New("manifest.name_fields must list at least one field")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}
