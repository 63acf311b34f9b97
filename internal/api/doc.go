// Package api defines wire-format types and converters shared by the control
// HTTP API and the IPC layer. It translates outbox, sync, manifest and cache
// models into transport-friendly DTOs so the CLI and other consumers never
// couple to internal types.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds and
// omitted when unset. Session tokens never leave the daemon in full; entries
// carry a short fingerprint instead.
package api
