// Package preflight provides readiness checks for the backend and the
// filesystem paths schoolsync depends on.
//
// The CLI "schoolsync doctor" command runs RunAll and prints every result;
// "schoolsync status" uses the individual checks (CheckDaemon,
// CheckNotificationsFromConfig) to annotate the daemon status.
//
// Checks never mutate state. A missing database file passes because the
// daemon creates it on first start.
package preflight
