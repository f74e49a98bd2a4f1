// Package session issues, validates and revokes opaque session tokens over a
// persist.Adapter.
//
// # Storage layout
//
// A session record lives under the keyed digest of its token, so lookup by
// token is a single Get and the plaintext token is never stored. Each account
// has an index record listing its sessions by public ID; the index backs
// listing, bulk revocation and single-session enforcement. An account
// deactivation marker revokes, at read time, every session created at or
// before it.
//
// Records are compact binary values with a leading version byte. Decoding
// rejects unknown versions and trailing bytes; undecodable records are
// deleted, never served.
//
// # What this package must NOT do
//
//   - Import goAccount (no upward imports).
//   - Log plaintext tokens. Sessions are identified in logs by their ULID.
//   - Cache validity in process. Every Validate reads the store.
package session
