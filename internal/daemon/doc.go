// Package daemon coordinates the long-running schoolsync process.
//
// It wires the outbox store, session tracker, connectivity monitor, request
// interceptor, sync engine, manifest service and cache worker into a single
// lifecycle with flock-based locking to prevent multiple instances. The daemon
// schedules sync triggers (startup, interval, offline to online transitions),
// serves the bearer-protected control API, and runs the browser-facing gateway
// where the cache worker fronts a reverse proxy whose transport is the
// intercepting round tripper.
//
// Keep orchestration logic here: queueing, replay and caching rules live in
// their own packages while the daemon focuses on startup, shutdown and high
// level coordination.
package daemon
