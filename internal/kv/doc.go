// Package kv provides the layered key/value persistence used by every durable
// store in toursync (action queue, tour packs, auth, logs).
//
// A Provider picks one Backend at construction from an ordered preference
// list, most preferred first:
//
//	keystore (platform secure storage) -> sqlite (device file) -> memory
//
// The first candidate whose availability probe succeeds becomes active. If no
// candidate is available the in-memory backend is used.
//
// # Degradation
//
// Every operation runs against the active backend. If that backend returns an
// error or panics, the Provider logs the failure and switches permanently to
// its in-memory fallback for the rest of its lifetime, then retries the
// operation there. Degradation is single-direction: the Provider never
// re-promotes a backend. Callers therefore never observe backend failures;
// a lost backend surfaces only as "not found".
//
// # Namespaces
//
// Each Provider prefixes keys with its namespace ("queue:", "tourpack:", ...),
// so independent stores can share one backend without collisions.
//
// # Ephemeral Runtimes
//
// Under `go test` (testing.Testing) or with TOURSYNC_EPHEMERAL=1, a Provider
// built without an explicitly injected Backend ignores its candidates and
// uses memory, keeping tests hermetic.
package kv
