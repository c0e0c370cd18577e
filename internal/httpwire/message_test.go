package httpwire

import (
	"errors"
	"strings"
	"testing"
)

func TestParseHeadersRequest(t *testing.T) {
	lines := []string{
		"GET /foo/bar?x=1 HTTP/1.1",
		"Host: example.com",
		"X-Multi: a",
		"X-Multi: b",
	}
	m, err := ParseHeaders(Request, lines)
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	if m.Method != "GET" || m.URI != "/foo/bar?x=1" || m.Version != "HTTP/1.1" {
		t.Fatalf("unexpected first line fields: %+v", m)
	}
	if got := m.Get("X-Multi"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("X-Multi = %v, want [a b]", got)
	}
	if host, ok, err := m.GetSingle("Host"); err != nil || !ok || host != "example.com" {
		t.Fatalf("Host = %q, %v, %v", host, ok, err)
	}
}

func TestParseHeadersResponse(t *testing.T) {
	lines := []string{
		"HTTP/1.1 404 Not Found",
		"Content-Length: 0",
	}
	m, err := ParseHeaders(Response, lines)
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	if m.StatusCode != 404 || m.StatusText != "Not Found" {
		t.Fatalf("unexpected status: %d %q", m.StatusCode, m.StatusText)
	}
}

func TestParseHeadersContinuation(t *testing.T) {
	lines := []string{
		"GET / HTTP/1.1",
		"X-Long: part1",
		" part2",
	}
	m, err := ParseHeaders(Request, lines)
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	vals := m.Get("X-Long")
	if len(vals) != 1 || !strings.Contains(vals[0], "part1") || !strings.Contains(vals[0], "part2") {
		t.Fatalf("X-Long = %v", vals)
	}
}

func TestParseHeadersTooMany(t *testing.T) {
	lines := make([]string, 0, MaxHeaderLines+2)
	lines = append(lines, "GET / HTTP/1.1")
	for i := 0; i < MaxHeaderLines+1; i++ {
		lines = append(lines, "X-Pad: v")
	}
	_, err := ParseHeaders(Request, lines)
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("want ErrSyntax, got %v", err)
	}
}

func TestParseHeadersBadFirstLine(t *testing.T) {
	_, err := ParseHeaders(Request, []string{"garbage"})
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("want ErrSyntax, got %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := NewRequest("POST", "/submit")
	m.Add("Host", "example.com")
	m.Add("Content-Length", "5")

	out := string(m.Serialize())
	if !strings.HasPrefix(out, "POST /submit HTTP/1.1\r\n") {
		t.Fatalf("bad first line: %q", out)
	}
	if !strings.Contains(out, "Host: example.com\r\n") {
		t.Fatalf("missing Host line: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Fatalf("missing terminating blank line: %q", out)
	}
}

func TestAddDoubleSpaceQuirkOnReparse(t *testing.T) {
	// Simulate a header reconstructed from a parsed "Name: value" line:
	// the value argument already carries the leading space from after
	// the colon, so re-adding it produces two spaces on reserialize.
	m, err := ParseHeaders(Request, []string{"GET / HTTP/1.1", "X-Foo: bar"})
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	val, ok, err := m.GetSingle("X-Foo")
	if err != nil || !ok || val != "bar" {
		t.Fatalf("GetSingle trimmed value = %q, %v, %v", val, ok, err)
	}
	m2 := NewRequest("GET", "/")
	m2.Add("X-Foo", " bar")
	out := string(m2.Serialize())
	if !strings.Contains(out, "X-Foo:  bar\r\n") {
		t.Fatalf("expected double-space quirk, got %q", out)
	}
}

func TestSetReplacesAll(t *testing.T) {
	m := NewRequest("GET", "/")
	m.Add("X-Foo", "1")
	m.Add("X-Foo", "2")
	m.Set("X-Foo", "3")
	if got := m.Get("X-Foo"); len(got) != 1 || got[0] != "3" {
		t.Fatalf("Get after Set = %v", got)
	}
}

func TestGetSingleNotSingular(t *testing.T) {
	m := NewRequest("GET", "/")
	m.Add("X-Foo", "1")
	m.Add("X-Foo", "2")
	_, _, err := m.GetSingle("X-Foo")
	if !errors.Is(err, ErrHeaderNotSingular) {
		t.Fatalf("want ErrHeaderNotSingular, got %v", err)
	}
}

func TestGetChunkedLastTokenWins(t *testing.T) {
	m := NewRequest("POST", "/")
	m.Add("Transfer-Encoding", "gzip, chunked")
	chunked, err := m.GetChunked()
	if err != nil || !chunked {
		t.Fatalf("GetChunked = %v, %v, want true, nil", chunked, err)
	}
}

func TestGetChunkedNotLastIsSyntaxError(t *testing.T) {
	m := NewRequest("POST", "/")
	m.Add("Transfer-Encoding", "chunked, gzip")
	_, err := m.GetChunked()
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("want ErrSyntax, got %v", err)
	}
}

func TestGetContentLengthIgnoredWhenChunked(t *testing.T) {
	m := NewRequest("POST", "/")
	m.Add("Transfer-Encoding", "chunked")
	m.Add("Content-Length", "10")
	cl, err := m.GetContentLength()
	if err != nil || cl != nil {
		t.Fatalf("GetContentLength = %v, %v, want nil, nil", cl, err)
	}
}

func TestGetContentLengthCachedUntilInvalidated(t *testing.T) {
	m := NewRequest("POST", "/")
	m.Add("Content-Length", "10")
	cl, err := m.GetContentLength()
	if err != nil || cl == nil || *cl != 10 {
		t.Fatalf("GetContentLength = %v, %v", cl, err)
	}
	m.Set("Content-Length", "20")
	cl2, err := m.GetContentLength()
	if err != nil || cl2 == nil || *cl2 != 20 {
		t.Fatalf("GetContentLength after Set = %v, %v, want 20", cl2, err)
	}
}

func TestGetContentLengthDuplicateIsSyntaxError(t *testing.T) {
	m := NewRequest("POST", "/")
	m.Add("Content-Length", "10")
	m.Add("Content-Length", "20")
	_, err := m.GetContentLength()
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("want ErrSyntax, got %v", err)
	}
}

func TestPathAndArgs(t *testing.T) {
	m := NewRequest("GET", "/a/b?x=1&y=hello+world&x=2")
	if m.Path() != "/a/b" {
		t.Fatalf("Path = %q", m.Path())
	}
	args := m.Args()
	if got := args["x"]; len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("x = %v", got)
	}
	if got := args["y"]; len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("y = %v", got)
	}
}

func TestHasConnectionClose(t *testing.T) {
	m := NewRequest("GET", "/")
	m.Add("Connection", " close ")
	if !m.HasConnectionClose() {
		t.Fatal("expected Connection: close to be detected")
	}
}
