package httpwire

import (
	"fmt"
	"strings"
	"time"
)

// neverExpires is used as the Set-Cookie Expires value for a cookie
// meant to outlive the session timeout entirely: far enough out that it
// reads as "never" to any client (cookie Expires has no true no-expiry
// value).
var neverExpires = time.Date(2038, time.January, 19, 3, 14, 7, 0, time.UTC)

// GetCookie returns the value of the first cookie named name
// (case-insensitive) found in the message's Cookie headers. ok is
// false if no such cookie exists.
func (m *Message) GetCookie(name string) (value string, ok bool) {
	for _, raw := range m.Get("Cookie") {
		for _, pair := range strings.Split(raw, ";") {
			k, v, found := splitCookiePair(pair)
			if found && strings.EqualFold(k, name) {
				return v, true
			}
		}
	}
	return "", false
}

// ExtractCookie returns the value of the first cookie named name
// (case-insensitive) and removes it from the Cookie header(s) in
// place, rewriting the remaining cookie pairs back onto a single
// Cookie header. Used by the proxy to strip its own session cookie
// before forwarding the request to a backend.
func (m *Message) ExtractCookie(name string) (value string, ok bool) {
	var kept []string
	for _, raw := range m.Get("Cookie") {
		for _, pair := range strings.Split(raw, ";") {
			k, v, found := splitCookiePair(pair)
			if !found {
				continue
			}
			if !ok && strings.EqualFold(k, name) {
				value, ok = v, true
				continue
			}
			kept = append(kept, k+"="+v)
		}
	}
	m.Remove("Cookie")
	if len(kept) > 0 {
		m.Add("Cookie", strings.Join(kept, "; "))
	}
	return value, ok
}

// splitCookiePair parses one "name=value" segment of a Cookie header.
// It splits on the first '=' only, so values containing '=' (base64,
// signed tokens) survive intact.
func splitCookiePair(pair string) (name, value string, ok bool) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return "", "", false
	}
	idx := strings.IndexByte(pair, '=')
	if idx < 0 {
		return "", "", false
	}
	return pair[:idx], pair[idx+1:], true
}

// DeleteCookie adds a Set-Cookie header that expires name immediately
// on the given path.
func (m *Message) DeleteCookie(name, path string) {
	m.Add("Set-Cookie", fmt.Sprintf("%s=; Path=%s; Expires=%s", name, path, formatCookieDate(time.Unix(0, 0).UTC())))
}

// SetCookie replaces any Set-Cookie header for name with one carrying
// value on path. If persistent is false the cookie is a session cookie
// (no Expires); if true it carries an Expires timestamp far enough in
// the future to outlive any realistic session.
func (m *Message) SetCookie(name, value, path string, persistent, secure, httpOnly bool) {
	m.removeSetCookie(name)
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s", name, value)
	if persistent {
		fmt.Fprintf(&b, "; Expires=%s", formatCookieDate(neverExpires))
	}
	fmt.Fprintf(&b, "; Path=%s", path)
	if httpOnly {
		b.WriteString("; HttpOnly")
	}
	if secure {
		b.WriteString("; Secure")
	}
	m.Add("Set-Cookie", b.String())
}

// removeSetCookie drops every Set-Cookie header whose cookie name
// matches name (case-insensitive), leaving Set-Cookie headers for other
// names alone.
func (m *Message) removeSetCookie(name string) {
	out := m.headers[:0]
	for _, h := range m.headers {
		if h.nameLower == "set-cookie" {
			first := strings.TrimSpace(h.value)
			if idx := strings.IndexByte(first, ';'); idx >= 0 {
				first = first[:idx]
			}
			if k, _, ok := splitCookiePair(first); ok && strings.EqualFold(k, name) {
				continue
			}
		}
		out = append(out, h)
	}
	m.headers = out
	m.invalidate()
}

var cookieDayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
var cookieMonthNames = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// formatCookieDate renders t in the RFC 1123-ish form browsers expect
// for cookie Expires: "Mon, 02 Jan 2006 15:04:05 GMT".
func formatCookieDate(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s, %02d %s %04d %02d:%02d:%02d GMT",
		cookieDayNames[t.Weekday()], t.Day(), cookieMonthNames[t.Month()-1], t.Year(),
		t.Hour(), t.Minute(), t.Second())
}
