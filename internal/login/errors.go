// Package login implements the session handshake served on
// /+atom/login: the login form and credential check on the system
// hostname, and the signed-key handoff that carries a fresh session to
// a destination hostname. It runs behind an in-memory socket pair, so
// the proxy engine drives it through the same connection-pipeline code
// as a real backend.
package login

import "errors"

// ErrUnsupportedMediaType is returned when a form body is requested
// from a request whose media type is not
// application/x-www-form-urlencoded.
var ErrUnsupportedMediaType = errors.New("login: form body media type not supported")

// ErrBadReturnURL is returned when a return argument fails to decode
// as base64url.
var ErrBadReturnURL = errors.New("login: malformed return argument")
