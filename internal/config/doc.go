// Package config loads, normalizes, and validates schoolsync configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SCHOOLSYNC_BACKEND_URL and SCHOOLSYNC_API_TOKEN. The Config type centralizes
// every knob the daemon, the gateway, and the CLI need so backend endpoints,
// outbox quotas, and cache generations are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
