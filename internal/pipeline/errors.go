// Package pipeline binds the HTTP/1.1 message codec (internal/httpwire)
// to a byte stream (internal/netio), tracking the framing decisions
// already made for the current exchange: a connection pipeline.
package pipeline

import "errors"

// ErrNotImplemented marks a request for behavior this pipeline
// deliberately does not support.
var ErrNotImplemented = errors.New("pipeline: not implemented")

// ErrNoMessage is returned by ReadBody when called before ReadHeaders
// has read a message on this side. SendBody makes no such check.
var ErrNoMessage = errors.New("pipeline: no message headers read or sent yet")
