// Package notifications delivers user-visible events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. Storage
// exhaustion and cleanup failures are blocking warnings: they are always sent
// at urgent priority and retained by the Journal until acknowledged.
package notifications
