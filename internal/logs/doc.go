// Package logs reads the daemon's JSON log file for `schoolsync logs`.
//
// Tail returns the last N matching lines or everything past a byte offset,
// and can wait for new lines in follow mode. Filter narrows lines by level,
// component and event type without loading the whole file.
package logs
