package proxy

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/yourusername/atomrouter/internal/httpwire"
	"github.com/yourusername/atomrouter/internal/netio"
	"github.com/yourusername/atomrouter/internal/pipeline"
)

const sessionCookieName = "atom-session"
const loginPath = "/+atom/login"
const reservedPrefix = "/+atom"

// SessionStore validates the session cookies presented on a request.
type SessionStore interface {
	Validate(hostname string, cookies []string, remoteIP string) (uid int, ok bool, err error)
}

// Directory resolves a (host, uri) to a backend socket and answers
// whether a session's user is authorized for a host.
type Directory interface {
	CheckAuthorization(uid int, host string) (bool, error)
	GetSocket(host, uri string) (netio.Conn, bool, error)
}

// LoginHandler serves the login protocol for one exchange over conn,
// the server-facing endpoint of a socket pair, then returns.
type LoginHandler interface {
	Serve(conn netio.Conn)
}

// Logger is the narrow logging surface the engine needs; satisfied by
// internal/routerlog.Logger.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// Engine is the proxy engine for one router. It is stateless across
// connections; all per-connection state lives in ServeConn's locals.
type Engine struct {
	Sessions SessionStore
	Dir      Directory
	Login    LoginHandler
	Log      Logger

	// Secure is true when the router is serving behind TLS
	// termination; it governs which Host port (443 vs 80) is
	// stripped as the scheme default.
	Secure bool
}

// ServeConn drives one accepted TCP connection to completion: each
// request is read, rewritten, dispatched to a backend, and relayed
// until the connection closes or a request asks for it to.
func (e *Engine) ServeConn(conn net.Conn, remoteIP string) {
	s := pipeline.New(pipeline.ServerSide, conn)
	defer s.Close()

	for {
		req, err := s.ReadHeaders()
		if err != nil {
			return
		}

		closeAfter := req.HasConnectionClose()
		host, err := e.rewriteHeaders(req, remoteIP)
		if err != nil {
			e.logf("bad request: %v", err)
			s.ErrorClose()
			return
		}

		cookies := extractSessionCookies(req)
		uid, authed, err := e.Sessions.Validate(host, cookies, remoteIP)
		if err != nil {
			e.logf("session validate: %v", err)
			s.ErrorClose()
			return
		}
		if authed {
			req.Set("X-Authenticated-User", strconv.Itoa(uid))
		}

		backend, ok := e.dispatch(s, req, host, uid, authed)
		if !ok {
			return
		}

		c := pipeline.New(pipeline.ClientSide, backend)
		if err := c.SendHeaders(req); err != nil {
			e.logf("send upstream headers: %v", err)
			s.ErrorClose()
			_ = backend.Close()
			return
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.relayResponse(s, c)
		}()

		if err := s.ReadBody(true, func(chunk []byte) error {
			return c.SendBody(chunk, true)
		}); err != nil {
			e.logf("relay request body: %v", err)
			s.ErrorClose()
			wg.Wait()
			_ = backend.Close()
			return
		}

		wg.Wait()
		_ = backend.Close()

		if closeAfter {
			return
		}
	}
}

// relayResponse reads the backend's response and relays it to the
// client; it is the "second cooperating task" for this exchange, run
// concurrently with the request body being streamed to the backend.
func (e *Engine) relayResponse(s, c *pipeline.Pipeline) {
	resp, err := c.ReadHeaders()
	if err != nil {
		e.logf("read upstream headers: %v", err)
		s.ErrorClose()
		c.ErrorClose()
		return
	}
	resp.Set("Server", "atom/0.0")

	if err := s.SendHeaders(resp); err != nil {
		e.logf("send response headers: %v", err)
		_ = s.Close()
		_ = c.Close()
		return
	}

	_ = c.ReadBody(true, func(chunk []byte) error {
		return s.SendBody(chunk, true)
	})
}

// rewriteHeaders applies the fixed ingress rewrite set and returns the
// (possibly port-stripped) Host value requests are scoped to. A
// request carrying more than one Host header is refused.
func (e *Engine) rewriteHeaders(req *httpwire.Message, remoteIP string) (string, error) {
	host, _, err := req.GetSingle("Host")
	if err != nil {
		return "", err
	}
	host = stripDefaultPort(host, e.Secure)
	req.Set("Host", host)

	req.Set("X-Forwarded-For", remoteIP)
	req.Remove("X-Authenticated-User")
	req.Set("Connection", "close")

	return host, nil
}

func stripDefaultPort(host string, secure bool) string {
	idx := strings.IndexByte(host, ':')
	if idx < 0 {
		return host
	}
	name, port := host[:idx], host[idx+1:]
	defaultPort := "80"
	if secure {
		defaultPort = "443"
	}
	if port == defaultPort {
		return name
	}
	return host
}

// extractSessionCookies removes every atom-session cookie from req,
// returning their values in the order they were presented.
func extractSessionCookies(req *httpwire.Message) []string {
	var cookies []string
	for {
		v, ok := req.ExtractCookie(sessionCookieName)
		if !ok {
			break
		}
		cookies = append(cookies, v)
	}
	return cookies
}

// dispatch selects the backend connection for req. ok is false when
// the exchange was answered (or torn down) here instead: a synthesized
// 404/403 or a directory failure, all of which end the connection.
func (e *Engine) dispatch(s *pipeline.Pipeline, req *httpwire.Message, host string, uid int, authed bool) (backend netio.Conn, ok bool) {
	switch {
	case req.Path() == loginPath:
		return e.dialLogin(), true

	case !authed:
		return e.dialLogin(), true

	case strings.HasPrefix(req.URI, reservedPrefix):
		e.respond(s, 404)
		return nil, false

	default:
		authorized, err := e.Dir.CheckAuthorization(uid, host)
		if err != nil {
			e.logf("check authorization: %v", err)
			s.ErrorClose()
			return nil, false
		}
		if !authorized {
			e.logf("%v: uid %d for host %q", ErrAuthDenied, uid, host)
			e.respond(s, 403)
			return nil, false
		}
		sock, found, err := e.Dir.GetSocket(host, req.URI)
		if err != nil {
			e.logf("get socket: %v", err)
			s.ErrorClose()
			return nil, false
		}
		if !found {
			e.respond(s, 404)
			return nil, false
		}
		return sock, true
	}
}

func (e *Engine) dialLogin() netio.Conn {
	client, server := netio.SocketPair()
	go e.Login.Serve(server)
	return client
}

// respond sends a bodyless synthesized response. Every synthesized
// response ends the connection, so it carries Connection: close.
func (e *Engine) respond(s *pipeline.Pipeline, code int) {
	resp := httpwire.NewResponse(code, "")
	resp.Set("Content-Length", "0")
	resp.Set("Connection", "close")
	if err := s.SendHeaders(resp); err != nil {
		e.logf("send %d response: %v", code, err)
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log.Errorf(format, args...)
	}
}
