// Package router is the front end: it owns the listener, builds the
// session store, directory, login handler, and proxy engine from one
// Config, and hands each accepted connection to the engine on its own
// goroutine.
package router

import (
	"database/sql"
	"errors"
	"net"
	"strconv"

	"github.com/yourusername/atomrouter/internal/directory"
	"github.com/yourusername/atomrouter/internal/login"
	"github.com/yourusername/atomrouter/internal/netio"
	"github.com/yourusername/atomrouter/internal/proxy"
	"github.com/yourusername/atomrouter/internal/routerlog"
	"github.com/yourusername/atomrouter/internal/session"
)

// Config is everything the router needs, supplied at construction. No
// part of the core reads the environment.
type Config struct {
	// IP and Port are the plaintext HTTP/1.1 listener address.
	IP   string
	Port int

	// AppsDir is where module definitions live. The router itself
	// only records it; discovering and spawning modules is another
	// process's job.
	AppsDir string

	// RunDir is the runtime directory module sockets are created in.
	// Socket paths registered as relative are resolved against it.
	RunDir string

	// DBFilename is the sqlite database holding the sessions, users,
	// modules, and hostnames tables.
	DBFilename string

	// SystemHostname is the host the login form is served on.
	SystemHostname string

	// ShellHostname is the default landing host for a user with no
	// shell hostname of their own.
	ShellHostname string

	// Secure is true when the router sits behind TLS termination:
	// redirects use https, cookies are Secure, and the default port
	// stripped from Host is 443 instead of 80.
	Secure bool
}

// Router ties the engine to a listener.
type Router struct {
	cfg    Config
	log    *routerlog.Logger
	db     *sql.DB
	engine *proxy.Engine

	listener net.Listener
}

// New opens the database, initializes the schema, and wires the
// session store, directory, login handler, and proxy engine together.
func New(cfg Config, log *routerlog.Logger) (*Router, error) {
	db, err := session.OpenDB(cfg.DBFilename)
	if err != nil {
		return nil, err
	}

	sessions := session.New(db)
	if err := sessions.Init(); err != nil {
		db.Close()
		return nil, err
	}

	dir := directory.New(db, cfg.SystemHostname, cfg.ShellHostname)
	if err := dir.Init(); err != nil {
		db.Close()
		return nil, err
	}
	dir.SetRunDir(cfg.RunDir)

	handler := &login.Handler{
		Dir:      dir,
		Sessions: sessions,
		Page:     login.DefaultPage{},
		Log:      log,
		Secure:   cfg.Secure,
	}
	engine := &proxy.Engine{
		Sessions: sessions,
		Dir:      dir,
		Login:    handler,
		Log:      log,
		Secure:   cfg.Secure,
	}

	return &Router{cfg: cfg, log: log, db: db, engine: engine}, nil
}

// ListenAndServe listens on the configured address and serves until
// the listener is closed.
func (r *Router) ListenAndServe() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(r.cfg.IP, strconv.Itoa(r.cfg.Port)))
	if err != nil {
		return err
	}
	return r.Serve(ln)
}

// Serve accepts connections from ln until it is closed, driving each
// through the proxy engine on its own goroutine.
func (r *Router) Serve(ln net.Listener) error {
	r.listener = ln
	r.log.Infof("listening on %s (apps %s, run %s)", ln.Addr(), r.cfg.AppsDir, r.cfg.RunDir)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := netio.ApplyTuning(conn, netio.DefaultTuning); err != nil {
			r.log.Warnf("socket tuning: %v", err)
		}

		remoteIP := remoteIPOf(conn)
		connLog := r.log.ForConnection(remoteIP)
		go func() {
			connLog.Debugf("connection opened")
			r.engine.ServeConn(conn, remoteIP)
			connLog.Debugf("connection closed")
		}()
	}
}

// Close stops the listener and releases the database. In-flight
// connections are left to finish their current exchange.
func (r *Router) Close() error {
	var first error
	if r.listener != nil {
		first = r.listener.Close()
	}
	if err := r.db.Close(); first == nil {
		first = err
	}
	return first
}

func remoteIPOf(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
