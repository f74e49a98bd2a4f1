// Package middleware adapts goAccount.Engine to net/http.
//
// [RequireSession] reads the Authorization bearer token, resolves it with
// Engine.AuthenticateSession and stores the session in the request context.
// [ClientIP] records the caller's address so per-IP confirm limits and audit
// events see it.
//
// The package only translates HTTP into Engine calls. Every accept or reject
// decision is the Engine's.
package middleware
