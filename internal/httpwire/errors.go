// Package httpwire implements the HTTP/1.1 message model: parsing and
// serializing the start line and header block, and the header-field
// operations (add/set/remove/get, cookies, path/query) the rest of the
// router builds on. It does not touch a socket — see internal/netio and
// internal/pipeline for that.
package httpwire

import "errors"

// ErrSyntax is the sentinel for malformed HTTP: bad first line, bad
// header, too many headers, bad chunk size, bad Content-Length. Wrap it
// with fmt.Errorf("%w: ...") for detail; match it with errors.Is.
var ErrSyntax = errors.New("httpwire: syntax error")

// ErrHeaderNotSingular is returned by GetSingle when a header name
// appears more than once.
var ErrHeaderNotSingular = errors.New("httpwire: header present multiple times")
