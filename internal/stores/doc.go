// Package stores persists verification challenges through a persist.Adapter.
//
// # Design
//
// A challenge is one versioned binary record per (account, purpose) slot.
// Issue replaces or refuses an outstanding record; Validate consumes the
// record on a digest match and counts a failure otherwise. Both mutate with
// compare-and-swap or compare-and-delete on the stored bytes and retry a
// bounded number of times on contention, so two concurrent confirmations of
// the same code cannot both succeed. Digests are compared in constant time.
//
// # Boundaries
//
// The package does not generate codes, throttle requests or mint sessions.
// It never sees a plaintext code and never logs a digest.
package stores
