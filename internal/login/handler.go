package login

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yourusername/atomrouter/internal/httpwire"
	"github.com/yourusername/atomrouter/internal/netio"
	"github.com/yourusername/atomrouter/internal/pipeline"
)

const loginPath = "/+atom/login"
const sessionCookieName = "atom-session"

// Directory is the identity surface the handler needs: credential
// check, per-user landing host, and the hostname the login form itself
// lives on.
type Directory interface {
	CheckLogin(username, password string) (uid int, ok bool, err error)
	GetShellHostname(uid int) (string, error)
	SystemHostname() string
}

// Sessions issues, validates, and revokes session keys.
type Sessions interface {
	Validate(hostname string, cookies []string, remoteIP string) (uid int, ok bool, err error)
	Create(uid int, hostname, remoteIP string) (cookie string, err error)
	Delete(keys []string) error
}

// Logger is the narrow logging surface the handler needs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// returnArgPattern is what a return argument must look like before it
// is echoed back into the form's post URL: base64url and nothing else.
var returnArgPattern = regexp.MustCompile(`^[A-Za-z0-9=_-]+$`)

// Handler serves one login exchange per Serve call. It expects the
// proxy engine's ingress rewrites to have already run: X-Forwarded-For
// carries the real peer address and X-Authenticated-User is only
// present when a session validated.
type Handler struct {
	Dir      Directory
	Sessions Sessions
	Page     PageRenderer
	Log      Logger
	Secure   bool
}

// Serve reads one request from conn (the server end of a socket pair),
// handles it, and closes. The engine forces Connection: close upstream,
// so a single exchange per pair is the whole protocol.
func (h *Handler) Serve(conn netio.Conn) {
	p := pipeline.New(pipeline.ServerSide, conn)
	defer p.Close()

	req, err := p.ReadHeaders()
	if err != nil {
		h.logf("read login request: %v", err)
		return
	}
	ex := newExchange(h, p, req)
	if ex.h.Log != nil {
		ex.h.Log.Debugf("login: %s %s%s", req.Method, ex.host, req.URI)
	}
	if err := ex.run(); err != nil {
		h.logf("login exchange: %v", err)
		p.ErrorClose()
	}
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.Log != nil {
		h.Log.Errorf(format, args...)
	}
}

// exchange is the per-request state: parsed identity headers and the
// session cookies the client presented alongside the request.
type exchange struct {
	h   *Handler
	p   *pipeline.Pipeline
	req *httpwire.Message

	host         string
	remoteIP     string
	uid          int
	authed       bool
	existingKeys []string
}

func newExchange(h *Handler, p *pipeline.Pipeline, req *httpwire.Message) *exchange {
	ex := &exchange{h: h, p: p, req: req}
	ex.host, _, _ = req.GetSingle("Host")
	ex.remoteIP, _, _ = req.GetSingle("X-Forwarded-For")
	if v, ok, _ := req.GetSingle("X-Authenticated-User"); ok {
		if uid, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			ex.uid = uid
			ex.authed = true
		}
	}
	for {
		v, ok := req.ExtractCookie(sessionCookieName)
		if !ok {
			break
		}
		ex.existingKeys = append(ex.existingKeys, v)
	}
	return ex
}

func (ex *exchange) run() error {
	sys := ex.h.Dir.SystemHostname()

	if ex.req.Path() != loginPath {
		// The engine only routes a non-login path here when the
		// session didn't validate; an authenticated one reaching
		// this branch is a routing bug, not a user error.
		if ex.authed {
			return ex.respondStatus(500)
		}
		ret := base64.URLEncoding.EncodeToString([]byte(ex.host + ex.req.URI))
		return ex.redirect(sys+loginPath+"?return="+ret, "")
	}

	if ex.host == sys {
		return ex.runSystemHost()
	}
	return ex.runDestinationHost()
}

// runSystemHost is the form-and-credentials half of the handshake,
// served only on the system hostname.
func (ex *exchange) runSystemHost() error {
	switch ex.req.Method {
	case "GET":
		if ex.authed {
			return ex.returnRedirect(ex.uid, "")
		}
		return ex.showLogin("")

	case "POST":
		uid, ok, err := ex.checkLogin()
		if err != nil {
			return err
		}
		if !ok {
			return ex.showLogin("Invalid username or password")
		}
		key, err := ex.h.Sessions.Create(uid, ex.host, ex.remoteIP)
		if err != nil {
			return err
		}
		return ex.returnRedirect(uid, key)

	default:
		return ex.methodNotAllowed("GET, HEAD, POST")
	}
}

// runDestinationHost is the handoff half: a key minted on the system
// host arrives as a query argument and becomes that host's cookie.
func (ex *exchange) runDestinationHost() error {
	if ex.req.Method != "GET" {
		return ex.methodNotAllowed("GET, HEAD")
	}

	sys := ex.h.Dir.SystemHostname()
	args := ex.req.Args()
	keys := args["key"]
	if len(keys) == 0 {
		return ex.redirect(sys+loginPath, "")
	}

	_, ok, err := ex.h.Sessions.Validate(ex.host, []string{keys[0]}, ex.remoteIP)
	if err != nil {
		return err
	}
	if !ok {
		return ex.redirect(sys+loginPath, "")
	}

	// The keys the client was still presenting are superseded by the
	// one just validated for this host. Cookie values carry a uid
	// prefix; the store deletes by bare key.
	stale := make([]string, 0, len(ex.existingKeys))
	for _, cookie := range ex.existingKeys {
		if idx := strings.IndexByte(cookie, '-'); idx >= 0 {
			stale = append(stale, cookie[idx+1:])
		}
	}
	if err := ex.h.Sessions.Delete(stale); err != nil {
		return err
	}

	hostAndPath := ex.host + "/"
	if rets := args["return"]; len(rets) > 0 {
		decoded, err := base64.URLEncoding.DecodeString(rets[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadReturnURL, err)
		}
		hostAndPath = string(decoded)
	}
	return ex.redirect(hostAndPath, keys[0])
}

// returnRedirect sends an authenticated user on to their destination.
// If that destination is a different host, a session scoped to it is
// minted first and carried across as the handoff key.
func (ex *exchange) returnRedirect(uid int, key string) error {
	var hostAndPath string
	if rets := ex.req.Args()["return"]; len(rets) > 0 {
		decoded, err := base64.URLEncoding.DecodeString(rets[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadReturnURL, err)
		}
		hostAndPath = string(decoded)
	} else {
		shell, err := ex.h.Dir.GetShellHostname(uid)
		if err != nil {
			return err
		}
		hostAndPath = shell + "/"
	}

	returnHost := hostAndPath
	if idx := strings.IndexByte(hostAndPath, '/'); idx >= 0 {
		returnHost = hostAndPath[:idx]
	}
	if returnHost != ex.host {
		returnKey, err := ex.h.Sessions.Create(uid, returnHost, ex.remoteIP)
		if err != nil {
			return err
		}
		hostAndPath = returnHost + loginPath +
			"?key=" + returnKey +
			"&return=" + base64.URLEncoding.EncodeToString([]byte(hostAndPath))
	}
	return ex.redirect(hostAndPath, key)
}

// redirect emits a 302 to hostAndPath, attaching key as the session
// cookie when one was just issued for the current host.
func (ex *exchange) redirect(hostAndPath, key string) error {
	scheme := "http://"
	if ex.h.Secure {
		scheme = "https://"
	}
	resp := httpwire.NewResponse(302, "")
	resp.Set("Location", scheme+hostAndPath)
	resp.Set("Content-Length", "0")
	if key != "" {
		resp.SetCookie(sessionCookieName, key, "/", true, ex.h.Secure, true)
	}
	return ex.p.SendHeaders(resp)
}

// showLogin renders the login form, echoing a validated return
// argument into the form's post URL so it survives the POST.
func (ex *exchange) showLogin(message string) error {
	postURL := loginPath
	if rets := ex.req.Args()["return"]; len(rets) > 0 && returnArgPattern.MatchString(rets[0]) {
		postURL = loginPath + "?return=" + rets[0]
	}
	body, err := ex.h.Page.RenderLogin(message, postURL)
	if err != nil {
		return err
	}
	resp := httpwire.NewResponse(200, "")
	resp.Set("Content-Type", "text/html")
	resp.Set("Content-Length", strconv.Itoa(len(body)))
	if err := ex.p.SendHeaders(resp); err != nil {
		return err
	}
	return ex.p.SendBody(body, false)
}

// checkLogin reads the POSTed form and asks the directory whether the
// credentials match a user.
func (ex *exchange) checkLogin() (int, bool, error) {
	form, err := ex.readFormBody()
	if err != nil {
		return 0, false, err
	}
	users, passwords := form["username"], form["password"]
	if len(users) == 0 || len(passwords) == 0 {
		return 0, false, nil
	}
	return ex.h.Dir.CheckLogin(users[0], passwords[0])
}

// readFormBody decodes the request body as
// application/x-www-form-urlencoded; any other media type is refused.
func (ex *exchange) readFormBody() (map[string][]string, error) {
	ct, _, err := ex.req.GetSingle("Content-Type")
	if err != nil {
		return nil, err
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	if mediaType != "application/x-www-form-urlencoded" {
		return nil, ErrUnsupportedMediaType
	}
	var body []byte
	if err := ex.p.ReadBody(false, func(chunk []byte) error {
		body = append(body, chunk...)
		return nil
	}); err != nil {
		return nil, err
	}
	return httpwire.ParseQuery(string(body)), nil
}

func (ex *exchange) methodNotAllowed(allow string) error {
	resp := httpwire.NewResponse(405, "")
	resp.Set("Allow", allow)
	resp.Set("Content-Length", "0")
	return ex.p.SendHeaders(resp)
}

func (ex *exchange) respondStatus(code int) error {
	resp := httpwire.NewResponse(code, "")
	resp.Set("Content-Length", "0")
	return ex.p.SendHeaders(resp)
}
