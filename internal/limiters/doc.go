// Package limiters holds the attempt guard that throttles verification
// requests per (account, purpose), plus advisory in-process token buckets.
//
// The AttemptGuard is authoritative and stores its counters through
// persist.Adapter. Advisory limiters are local to one process and only ever
// deny early.
//
// # What this package must NOT do
//
//   - Import goAccount or the stores package.
//   - Touch verification challenge records. Attempt counting on a challenge
//     belongs to the challenge store.
package limiters
