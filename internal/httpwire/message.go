package httpwire

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes a request message from a response message.
type Kind int

const (
	Request Kind = iota
	Response
)

// MaxHeaderLines bounds the number of header lines a single message may
// carry. The connection pipeline enforces this while accumulating lines
// off the wire; it is re-checked here so a Message built
// programmatically can't exceed it either.
const MaxHeaderLines = 100

// headerField is the (canonical-lower-name, original-case-name,
// value-with-leading-space) triple. Order is significant: duplicate
// names are preserved in the order they were added.
type headerField struct {
	nameLower string
	name      string
	value     string
}

// Message is a parsed or programmatically built HTTP/1.1 request or
// response. Header order and duplicates are preserved exactly as added.
type Message struct {
	Kind    Kind
	Version string

	// Request fields.
	Method string
	URI    string

	// Response fields.
	StatusCode int
	StatusText string

	headers []headerField

	chunkedCached bool
	chunkedVal    bool

	clCached bool
	clVal    *int64
}

// NewRequest builds an empty HTTP/1.1 request message.
func NewRequest(method, uri string) *Message {
	return &Message{Kind: Request, Version: "HTTP/1.1", Method: method, URI: uri}
}

// NewResponse builds an empty HTTP/1.1 response message.
func NewResponse(code int, text string) *Message {
	if text == "" {
		text = statusText(code)
	}
	return &Message{Kind: Response, Version: "HTTP/1.1", StatusCode: code, StatusText: text}
}

var statusTexts = map[int]string{
	100: "Continue",
	200: "OK",
	204: "No Content",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	411: "Length Required",
	500: "Internal Server Error",
}

func statusText(code int) string {
	if t, ok := statusTexts[code]; ok {
		return t
	}
	return "Unknown"
}

// ParseHeaders parses the header block of a message: lines is the
// sequence between the first CRLF-terminated line and the first empty
// line, with CRLF already stripped by the caller (the connection
// pipeline's line reader).
func ParseHeaders(kind Kind, lines []string) (*Message, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty header block", ErrSyntax)
	}
	if len(lines)-1 > MaxHeaderLines {
		return nil, fmt.Errorf("%w: too many headers", ErrSyntax)
	}

	parts := splitFirstLine(lines[0])
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: invalid first line %q", ErrSyntax, lines[0])
	}

	m := &Message{Kind: kind}
	if kind == Request {
		m.Method, m.URI, m.Version = parts[0], parts[1], parts[2]
	} else {
		m.Version = parts[0]
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid first line %q", ErrSyntax, lines[0])
		}
		m.StatusCode = code
		m.StatusText = parts[2]
	}

	var cur string
	haveCur := false
	flush := func() error {
		if !haveCur {
			return nil
		}
		idx := strings.IndexByte(cur, ':')
		if idx < 0 {
			return fmt.Errorf("%w: invalid header %q", ErrSyntax, cur)
		}
		m.Add(cur[:idx], cur[idx+1:])
		return nil
	}

	for _, line := range lines[1:] {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if !haveCur {
				return nil, fmt.Errorf("%w: continuation before any header", ErrSyntax)
			}
			cur += "\r\n" + line
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		cur = line
		haveCur = true
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if _, err := m.GetChunked(); err != nil {
		return nil, err
	}
	if _, err := m.GetContentLength(); err != nil {
		return nil, err
	}

	return m, nil
}

// splitFirstLine splits s into at most three whitespace-separated
// fields; the third field is whatever remains after the second
// whitespace run, internal whitespace preserved (so a response's
// reason phrase, e.g. "Not Found", survives intact).
func splitFirstLine(s string) []string {
	var parts []string
	for len(parts) < 2 {
		s = strings.TrimLeft(s, " \t")
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			break
		}
		parts = append(parts, s[:idx])
		s = s[idx:]
	}
	s = strings.TrimLeft(s, " \t")
	if s != "" || len(parts) > 0 {
		parts = append(parts, s)
	}
	return parts
}

// Serialize emits the first line, each header as "orig-name:value"
// joined by CRLF, then CRLF CRLF. Original casing and the leading space
// inserted by Add are preserved verbatim.
func (m *Message) Serialize() []byte {
	var b strings.Builder
	if m.Kind == Request {
		fmt.Fprintf(&b, "%s %s %s\r\n", m.Method, m.URI, m.Version)
	} else {
		fmt.Fprintf(&b, "%s %d %s\r\n", m.Version, m.StatusCode, m.StatusText)
	}
	for _, h := range m.headers {
		b.WriteString(h.name)
		b.WriteByte(':')
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Add appends a header. The stored value always gains one leading
// space relative to whatever was passed in: for headers built by
// callers (no leading space in value) that yields the conventional
// "Name: value", while headers reconstructed from a parsed
// "Name: value" line (whose value argument, taken verbatim after the
// colon, already starts with a space) re-serialize with the double
// space they were received with. Get()/GetSingle() trim, so this never
// affects matching, only the exact re-serialized bytes.
func (m *Message) Add(name, value string) {
	m.headers = append(m.headers, headerField{
		nameLower: strings.ToLower(strings.TrimSpace(name)),
		name:      name,
		value:     " " + value,
	})
	m.invalidate()
}

// Remove deletes every header matching name (case-insensitive).
func (m *Message) Remove(name string) {
	lower := strings.ToLower(strings.TrimSpace(name))
	out := m.headers[:0]
	for _, h := range m.headers {
		if h.nameLower != lower {
			out = append(out, h)
		}
	}
	m.headers = out
	m.invalidate()
}

// Set replaces all existing headers named name with a single header
// carrying value.
func (m *Message) Set(name, value string) {
	m.Remove(name)
	m.Add(name, value)
}

// Get returns all values for name, in order, trimmed of surrounding
// whitespace.
func (m *Message) Get(name string) []string {
	lower := strings.ToLower(strings.TrimSpace(name))
	var vals []string
	for _, h := range m.headers {
		if h.nameLower == lower {
			vals = append(vals, strings.TrimSpace(h.value))
		}
	}
	return vals
}

// GetSingle returns the one value for name. ok is false if the header
// is absent. err is ErrHeaderNotSingular if it appears more than once.
func (m *Message) GetSingle(name string) (value string, ok bool, err error) {
	vals := m.Get(name)
	if len(vals) > 1 {
		return "", false, fmt.Errorf("%w: %q", ErrHeaderNotSingular, name)
	}
	if len(vals) == 0 {
		return "", false, nil
	}
	return vals[0], true, nil
}

// HasConnectionClose reports whether a Connection header's value is
// "close" (case-insensitive), ignoring surrounding whitespace.
func (m *Message) HasConnectionClose() bool {
	for _, v := range m.Get("Connection") {
		if strings.EqualFold(strings.TrimSpace(v), "close") {
			return true
		}
	}
	return false
}

func (m *Message) invalidate() {
	m.chunkedCached = false
	m.clCached = false
}

// GetChunked reports whether the message is chunked: true iff the last
// token of the combined Transfer-Encoding header value is "chunked"
// (case-insensitive). "chunked" appearing earlier than the last
// position is a syntax error.
func (m *Message) GetChunked() (bool, error) {
	if m.chunkedCached {
		return m.chunkedVal, nil
	}
	var encodings []string
	for _, raw := range m.Get("Transfer-Encoding") {
		for _, tok := range strings.Split(raw, ",") {
			encodings = append(encodings, strings.ToLower(strings.TrimSpace(tok)))
		}
	}
	chunked := false
	if len(encodings) > 0 {
		chunked = encodings[len(encodings)-1] == "chunked"
		for _, e := range encodings[:len(encodings)-1] {
			if e == "chunked" {
				return false, fmt.Errorf("%w: invalid Transfer-Encoding", ErrSyntax)
			}
		}
	}
	m.chunkedCached = true
	m.chunkedVal = chunked
	return chunked, nil
}

// GetContentLength returns the message's Content-Length, or nil if none
// applies. If any Transfer-Encoding header is present, Content-Length is
// ignored and nil is returned without inspecting it. Multiple
// Content-Length headers, or a non-integer value, are syntax errors.
func (m *Message) GetContentLength() (*int64, error) {
	if m.clCached {
		return m.clVal, nil
	}
	if len(m.Get("Transfer-Encoding")) > 0 {
		m.clCached = true
		m.clVal = nil
		return nil, nil
	}
	vals := m.Get("Content-Length")
	if len(vals) > 1 {
		return nil, fmt.Errorf("%w: too many Content-Length headers", ErrSyntax)
	}
	if len(vals) == 0 {
		m.clCached = true
		m.clVal = nil
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(vals[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Content-Length", ErrSyntax)
	}
	m.clCached = true
	m.clVal = &n
	return &n, nil
}

// Path returns the request-target's path portion, everything before
// the first '?'.
func (m *Message) Path() string {
	if idx := strings.IndexByte(m.URI, '?'); idx >= 0 {
		return m.URI[:idx]
	}
	return m.URI
}

// Args returns the request-target's query string, form-decoded into a
// mapping from name to its list of values.
func (m *Message) Args() map[string][]string {
	idx := strings.IndexByte(m.URI, '?')
	if idx < 0 {
		return map[string][]string{}
	}
	return ParseQuery(m.URI[idx+1:])
}

// ParseQuery form-decodes raw — a query string or an
// application/x-www-form-urlencoded body — into a mapping from name to
// its list of values, in order of appearance.
func ParseQuery(raw string) map[string][]string {
	out := map[string][]string{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var k, v string
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			k, v = pair[:idx], pair[idx+1:]
		} else {
			k = pair
		}
		k = queryUnescape(k)
		v = queryUnescape(v)
		out[k] = append(out[k], v)
	}
	return out
}

func queryUnescape(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
