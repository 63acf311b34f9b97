// Package syncer drains the outbox against the backend.
//
// A run lists pending entries, drops those captured under a different session,
// then replays the rest strictly in id order through the plain transport. Every
// replay result goes through Classify: successes and terminal client errors are
// removed, and the first retryable failure ends the run with the failing entry
// and everything after it still queued. Runs never overlap; concurrent callers
// share the in-flight run.
package syncer
