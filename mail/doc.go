// Package mail formats verification codes into messages and hands them to an
// outbound transport.
//
// The Dispatcher is stateless with respect to challenges: a transport
// failure is reported as ErrTransport and never touches the stored
// challenge. Rendered bodies carry the plaintext code and are never logged.
package mail
