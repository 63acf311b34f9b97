// Package backend talks to the remote school administration API.
//
// It owns the error taxonomy shared by the interceptor and the sync engine,
// the credential headers attached to every authenticated request, context
// helpers for request correlation, and a small client for the manifest,
// bulk sync, session verification, and reachability endpoints.
package backend
