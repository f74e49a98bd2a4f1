// Package httpapi maps the goAccount engine onto a small JSON-over-HTTP API
// served by cmd/goaccountd.
//
//	POST   /v1/verifications/{purpose}          start a verification
//	POST   /v1/verifications/{purpose}/confirm  confirm a code
//	GET    /v1/sessions                         list the caller's sessions
//	GET    /v1/sessions/current                 describe the caller's session
//	DELETE /v1/sessions/current                 log out
//	DELETE /v1/sessions/{id}                    revoke one of the caller's sessions
//	DELETE /v1/sessions                         revoke all of the caller's sessions
//	GET    /v1/health                           backend liveness
package httpapi
