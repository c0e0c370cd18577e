// Package proxy implements the duplex streaming proxy engine: it pairs
// a client-facing connection pipeline with a backend pipeline, rewrites
// a fixed set of control headers, validates the session cookie, and
// relays the body in both directions concurrently.
package proxy

import "errors"

// ErrAuthDenied is the error the engine logs when
// Directory.CheckAuthorization denies a request; the client receives a
// 403.
var ErrAuthDenied = errors.New("proxy: authorization denied")
