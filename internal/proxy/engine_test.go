package proxy

import (
	"net"
	"strings"
	"testing"

	"github.com/yourusername/atomrouter/internal/netio"
)

type fakeSessions struct {
	uid    int
	ok     bool
	gotCookies []string
	gotHost    string
}

func (f *fakeSessions) Validate(hostname string, cookies []string, remoteIP string) (int, bool, error) {
	f.gotHost = hostname
	f.gotCookies = cookies
	return f.uid, f.ok, nil
}

type fakeDirectory struct {
	authorized bool
	backend    netio.Conn
	found      bool
}

func (f *fakeDirectory) CheckAuthorization(uid int, host string) (bool, error) {
	return f.authorized, nil
}

func (f *fakeDirectory) GetSocket(host, uri string) (netio.Conn, bool, error) {
	return f.backend, f.found, nil
}

type fakeLogin struct {
	served chan netio.Conn
}

func (f *fakeLogin) Serve(conn netio.Conn) {
	f.served <- conn
	_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
}

func TestAuthedRequestReachesBackendWithRewrittenHeaders(t *testing.T) {
	backendServer, backendClient := netio.SocketPair()
	defer backendServer.Close()

	sessions := &fakeSessions{uid: 1, ok: true}
	dir := &fakeDirectory{authorized: true, backend: backendClient, found: true}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: make(chan netio.Conn, 1)}}

	clientConn, serverConn := net.Pipe()
	go func() {
		_, _ = clientConn.Write([]byte("GET /bar HTTP/1.1\r\nHost: app.example:80\r\nCookie: atom-session=1-deadbeef\r\nConnection: close\r\n\r\n"))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	got, err := readHeaderBlock(backendServer)
	if err != nil {
		t.Fatalf("read backend: %v", err)
	}
	if err := netio.New(backendServer).SendAll([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")); err != nil {
		t.Fatalf("write backend response: %v", err)
	}
	clientConn.Close()
	<-done

	if !strings.Contains(got, "X-Authenticated-User: 1") {
		t.Fatalf("missing X-Authenticated-User, got %q", got)
	}
	if !strings.Contains(got, "X-Forwarded-For: 203.0.113.5") {
		t.Fatalf("missing X-Forwarded-For, got %q", got)
	}
	if !strings.Contains(got, "Connection: close") {
		t.Fatalf("missing Connection: close, got %q", got)
	}
	if strings.Contains(got, "Cookie:") {
		t.Fatalf("atom-session cookie should have been stripped, got %q", got)
	}
	if sessions.gotHost != "app.example" {
		t.Fatalf("host port not stripped: %q", sessions.gotHost)
	}
	if len(sessions.gotCookies) != 1 || sessions.gotCookies[0] != "1-deadbeef" {
		t.Fatalf("session cookie not extracted: %v", sessions.gotCookies)
	}
}

func TestUnauthedRequestGoesToLogin(t *testing.T) {
	served := make(chan netio.Conn, 1)
	sessions := &fakeSessions{ok: false}
	dir := &fakeDirectory{}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: served}}

	clientConn, serverConn := net.Pipe()
	go func() {
		_, _ = clientConn.Write([]byte("GET /bar HTTP/1.1\r\nHost: app.example\r\nConnection: close\r\n\r\n"))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	select {
	case conn := <-served:
		if conn == nil {
			t.Fatal("login handler got nil conn")
		}
	case <-done:
		t.Fatal("ServeConn returned before dispatching to login")
	}
	clientConn.Close()
	<-done
}

func TestReservedPathForAuthedUserIs404(t *testing.T) {
	sessions := &fakeSessions{uid: 1, ok: true}
	dir := &fakeDirectory{}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: make(chan netio.Conn, 1)}}

	clientConn, serverConn := net.Pipe()
	go func() {
		_, _ = clientConn.Write([]byte("GET /+atom/whatever HTTP/1.1\r\nHost: app.example\r\nConnection: close\r\n\r\n"))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	buf := make([]byte, 4096)
	n, _ := clientConn.Read(buf)
	resp := string(buf[:n])
	if !strings.Contains(resp, "404") {
		t.Fatalf("expected 404 response, got %q", resp)
	}
	clientConn.Close()
	<-done
}

// readHeaderBlock reads lines up to and including the terminating
// blank line, without requiring the peer to close its side. It reads
// one byte at a time so nothing past the blank line is consumed.
func readHeaderBlock(conn netio.Conn) (string, error) {
	var b []byte
	one := make([]byte, 1)
	for !strings.HasSuffix(string(b), "\r\n\r\n") {
		n, err := conn.Read(one)
		b = append(b, one[:n]...)
		if err != nil {
			return string(b), err
		}
	}
	return string(b), nil
}

func TestUnauthorizedHostIs403(t *testing.T) {
	sessions := &fakeSessions{uid: 2, ok: true}
	dir := &fakeDirectory{authorized: false}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: make(chan netio.Conn, 1)}}

	clientConn, serverConn := net.Pipe()
	go func() {
		_, _ = clientConn.Write([]byte("GET /bar HTTP/1.1\r\nHost: other.example\r\nConnection: close\r\n\r\n"))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	buf := make([]byte, 4096)
	n, _ := clientConn.Read(buf)
	if !strings.Contains(string(buf[:n]), "403") {
		t.Fatalf("expected 403 response, got %q", buf[:n])
	}
	clientConn.Close()
	<-done
}

func TestBackendLookupMissIs404(t *testing.T) {
	sessions := &fakeSessions{uid: 1, ok: true}
	dir := &fakeDirectory{authorized: true, found: false}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: make(chan netio.Conn, 1)}}

	clientConn, serverConn := net.Pipe()
	go func() {
		_, _ = clientConn.Write([]byte("GET /bar HTTP/1.1\r\nHost: app.example\r\nConnection: close\r\n\r\n"))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	buf := make([]byte, 4096)
	n, _ := clientConn.Read(buf)
	if !strings.Contains(string(buf[:n]), "404") {
		t.Fatalf("expected 404 response, got %q", buf[:n])
	}
	clientConn.Close()
	<-done
}

func TestChunkedUploadRelayedByteExact(t *testing.T) {
	backendServer, backendClient := netio.SocketPair()

	sessions := &fakeSessions{uid: 1, ok: true}
	dir := &fakeDirectory{authorized: true, backend: backendClient, found: true}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: make(chan netio.Conn, 1)}}

	clientConn, serverConn := net.Pipe()
	body := "5\r\nhello\r\n0\r\n\r\n"
	go func() {
		_, _ = clientConn.Write([]byte("POST /upload HTTP/1.1\r\nHost: app.example\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n" + body))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	if _, err := readHeaderBlock(backendServer); err != nil {
		t.Fatalf("read backend headers: %v", err)
	}
	got := make([]byte, 0, len(body))
	buf := make([]byte, 64)
	for len(got) < len(body) {
		n, err := backendServer.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	if string(got) != body {
		t.Fatalf("relayed body = %q, want byte-exact %q", got, body)
	}

	if err := netio.New(backendServer).SendAll([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")); err != nil {
		t.Fatalf("backend response: %v", err)
	}
	backendServer.Close()
	clientConn.Close()
	<-done
}

func TestDuplicateHostHeaderDropsConnection(t *testing.T) {
	sessions := &fakeSessions{}
	dir := &fakeDirectory{}
	e := &Engine{Sessions: sessions, Dir: dir, Login: &fakeLogin{served: make(chan netio.Conn, 1)}}

	clientConn, serverConn := net.Pipe()
	go func() {
		_, _ = clientConn.Write([]byte("GET / HTTP/1.1\r\nHost: a.example\r\nHost: b.example\r\n\r\n"))
	}()

	done := make(chan struct{})
	go func() {
		e.ServeConn(serverConn, "203.0.113.5")
		close(done)
	}()

	buf := make([]byte, 4096)
	n, _ := clientConn.Read(buf)
	if !strings.Contains(string(buf[:n]), "500") {
		t.Fatalf("expected 500 for duplicate Host, got %q", buf[:n])
	}
	if sessions.gotHost != "" {
		t.Fatalf("session store consulted despite bad Host: %q", sessions.gotHost)
	}
	clientConn.Close()
	<-done
}
