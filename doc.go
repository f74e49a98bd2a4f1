// Package goAccount issues and validates time-limited verification codes and
// converts a validated identity into a revocable session.
//
// The Engine is safe for concurrent use after [Builder.Build]. All mutable
// state lives behind a [persist.Adapter]; the process holds no authoritative
// cache of challenge or session validity, so several Engine instances may
// share one backend.
//
// # Flows
//
// StartVerification runs AttemptGuard, then stores a fresh challenge, then
// dispatches the code by mail. ConfirmVerification checks the guard, validates
// the code exactly once against the stored digest and optionally mints a
// session.
//
// # What this package must NOT do
//
//   - Store or log plaintext codes or session tokens.
//   - Reveal whether an account or challenge exists through its error values.
//   - Own account state. Accounts are read through [IdentityProvider] only.
package goAccount
