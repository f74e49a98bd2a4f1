// Package persist defines the narrow key/value contract the verification and
// session components use against the backing store.
//
// Implementations live in sub-packages (redisstore, dynamostore, sqlitestore).
// Every conditional primitive must be atomic on the backend: callers rely on
// CompareAndDelete and CompareAndSwap to pick exactly one winner when several
// processes race on the same key.
//
// # What this package must NOT do
//
//   - Interpret record contents. Values are opaque bytes.
//   - Cache values in process.
package persist
