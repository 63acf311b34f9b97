// Package main hosts the schoolsync CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls against
// the daemon: outbox inspection, manual syncs, session hand-off from the front
// end, manifest refreshes and cache generation management. It also runs the
// daemon itself in the foreground (`schoolsync daemon`) and offers offline
// utilities that need no daemon (`config`, `doctor`, `logs`).
//
// Every command that prints a table also honours --json so scripts never
// parse the human output.
package main
