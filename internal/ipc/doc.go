// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response types. Most
// responses reuse the DTOs from package api so the HTTP control API and the
// CLI agree on field names. Errors cross the socket as plain strings; callers
// that need to branch on a failure use the HTTP API instead.
package ipc
