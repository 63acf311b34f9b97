// Package logging assembles structured slog loggers and formatting helpers used
// across schoolsync services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so sync runs and gateway requests
// are tagged with request IDs and trigger names. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
