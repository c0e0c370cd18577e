// Package directory implements the read side of the users/modules/
// hostnames schema: resolving a request's Host to a backend socket,
// deciding whether a session's user may reach it, and answering the
// identity questions the login handler needs (credential check, shell
// hostname). Module discovery and process lifecycle are out of scope;
// this package only reads what another process already registered.
package directory

import (
	"database/sql"
	"errors"
	"net"
	"path/filepath"

	"github.com/yourusername/atomrouter/internal/netio"
)

// systemUserID is the reserved owner id for modules any authenticated
// user may reach: row 0, the "system" user.
const systemUserID = 0

// ErrUnknownHost is returned by internal lookups when no hostnames row
// matches; callers translate it to "not found" rather than an error.
var ErrUnknownHost = errors.New("directory: unknown hostname")

// SQLiteDirectory implements proxy.Directory and the directory surface
// the login handler needs, backed by the users/modules/hostnames
// tables in a shared database/sql connection.
type SQLiteDirectory struct {
	db           *sql.DB
	systemHost   string
	shellDefault string
	runDir       string
}

// New wraps db. systemHost is the hostname the login form is served
// on; shellDefault is used for a user with no shell_hostname row value.
func New(db *sql.DB, systemHost, shellDefault string) *SQLiteDirectory {
	return &SQLiteDirectory{db: db, systemHost: systemHost, shellDefault: shellDefault}
}

// SetRunDir sets the runtime directory that module socket paths
// registered as relative paths are resolved against.
func (d *SQLiteDirectory) SetRunDir(dir string) {
	d.runDir = dir
}

// Init creates the users/modules/hostnames tables if absent and seeds
// the system user row.
func (d *SQLiteDirectory) Init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id             INTEGER PRIMARY KEY,
			name           TEXT,
			password       TEXT,
			shell_hostname TEXT
		)`,
		`INSERT OR IGNORE INTO users (id, name, password, shell_hostname) VALUES (0, 'system', NULL, NULL)`,
		`CREATE TABLE IF NOT EXISTS modules (
			id            INTEGER PRIMARY KEY,
			name          TEXT,
			owner_user_id INTEGER NOT NULL DEFAULT 0,
			socket_path   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hostnames (
			id        INTEGER PRIMARY KEY,
			hostname  TEXT UNIQUE,
			module_id INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// moduleForHost resolves hostname to its module's owner and socket
// path.
func (d *SQLiteDirectory) moduleForHost(hostname string) (ownerUserID int, socketPath string, err error) {
	row := d.db.QueryRow(`
		SELECT modules.owner_user_id, modules.socket_path
		FROM hostnames
		JOIN modules ON modules.id = hostnames.module_id
		WHERE hostnames.hostname = ?`, hostname)
	if err := row.Scan(&ownerUserID, &socketPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrUnknownHost
		}
		return 0, "", err
	}
	return ownerUserID, socketPath, nil
}

// CheckAuthorization reports whether uid may reach host: either the
// module is owned by uid, or it is owned by the system user and thus
// open to any authenticated user.
func (d *SQLiteDirectory) CheckAuthorization(uid int, host string) (bool, error) {
	owner, _, err := d.moduleForHost(host)
	if errors.Is(err, ErrUnknownHost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == systemUserID || owner == uid, nil
}

// GetSocket dials the UNIX-domain socket registered for host, ignoring
// uri: endpoint routing within a module is that module's concern, not
// the router's.
func (d *SQLiteDirectory) GetSocket(host, uri string) (netio.Conn, bool, error) {
	_, socketPath, err := d.moduleForHost(host)
	if errors.Is(err, ErrUnknownHost) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if d.runDir != "" && !filepath.IsAbs(socketPath) {
		socketPath = filepath.Join(d.runDir, socketPath)
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, false, nil
	}
	return conn, true, nil
}

// CheckLogin validates username/password against the users table and
// returns the matching user id.
func (d *SQLiteDirectory) CheckLogin(username, password string) (int, bool, error) {
	var uid int
	row := d.db.QueryRow(`SELECT id FROM users WHERE name = ? AND password = ?`, username, password)
	if err := row.Scan(&uid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uid, true, nil
}

// GetShellHostname returns uid's configured landing host, falling back
// to the directory's default shell hostname if the user has none set.
func (d *SQLiteDirectory) GetShellHostname(uid int) (string, error) {
	var hostname sql.NullString
	row := d.db.QueryRow(`SELECT shell_hostname FROM users WHERE id = ?`, uid)
	if err := row.Scan(&hostname); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d.shellDefault, nil
		}
		return "", err
	}
	if !hostname.Valid || hostname.String == "" {
		return d.shellDefault, nil
	}
	return hostname.String, nil
}

// SystemHostname is the host the login form is served on.
func (d *SQLiteDirectory) SystemHostname() string {
	return d.systemHost
}

// ModuleInfo is one registered module as a process supervisor or an
// admin surface would see it.
type ModuleInfo struct {
	ID         int
	Name       string
	OwnerID    int
	SocketPath string
}

// Modules lists every registered module.
func (d *SQLiteDirectory) Modules() ([]ModuleInfo, error) {
	rows, err := d.db.Query(`SELECT id, name, owner_user_id, socket_path FROM modules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModuleInfo
	for rows.Next() {
		var m ModuleInfo
		var name sql.NullString
		if err := rows.Scan(&m.ID, &name, &m.OwnerID, &m.SocketPath); err != nil {
			return nil, err
		}
		m.Name = name.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// Hostnames maps every registered hostname to its module id.
func (d *SQLiteDirectory) Hostnames() (map[string]int, error) {
	rows, err := d.db.Query(`SELECT hostname, module_id FROM hostnames`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var hostname string
		var moduleID int
		if err := rows.Scan(&hostname, &moduleID); err != nil {
			return nil, err
		}
		out[hostname] = moduleID
	}
	return out, rows.Err()
}
