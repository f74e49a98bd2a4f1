// Package internal contains helpers private to goAccount: secure random code
// and token generation, and the keyed digests used to store them.
//
// # Sub-packages
//
//   - stores: verification challenge records over persist.Adapter
//   - limiters: persisted attempt guard and advisory in-process limiters
//
// # What this package must NOT do
//
//   - Persist or log plaintext codes or tokens.
//   - Be imported by any package outside the goAccount module.
package internal
