// Package netio provides the byte-stream abstraction the connection
// pipeline reads and writes through: a line/byte reader with bounded
// buffering over a real socket, an in-memory socket pair for routing
// traffic to the login handler without a real listener, and Linux TCP
// tuning applied to accepted connections.
package netio

import "errors"

// ErrClosed is returned by read/write operations once the peer has
// closed its side.
var ErrClosed = errors.New("netio: connection closed")

// ErrTimeout is returned when a read exceeds its deadline.
var ErrTimeout = errors.New("netio: read timeout")

// ErrLineTooLong is returned by ReadLine when no CRLF is found within
// MaxLineLength bytes.
var ErrLineTooLong = errors.New("netio: line exceeds maximum length")
