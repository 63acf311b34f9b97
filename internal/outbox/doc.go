// Package outbox persists not-yet-confirmed mutating requests in SQLite.
//
// The Store owns three record families: the ordered outbox of queued
// requests, the singleton manifest snapshot used for offline reads, and a
// small settings table for session state. Records in the outbox are only ever
// inserted and deleted; replay order is ascending id, which SQLite assigns
// monotonically and never reuses.
package outbox
