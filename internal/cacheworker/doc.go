// Package cacheworker is the cache-serving gateway in front of the backend.
//
// Each worker version owns one cache generation named
// "<cache_name>-v<cache_version>" in its own SQLite file. Install precaches the
// configured assets into the new generation while the previous one keeps
// serving; Activate deletes every other generation and switches traffic at
// once. Navigations are network-first with cached fallbacks, other GETs are
// stale-while-revalidate, and anything else passes through untouched.
package cacheworker
