package session

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// idleExpiry is how long a session may go unvalidated before the next
// validation call garbage-collects it.
const idleExpiry = 24 * time.Hour

// Store persists sessions in the sessions table of db.
type Store struct {
	db *sql.DB
}

// New wraps db for session storage.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the sessions table if it does not already exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id        INTEGER PRIMARY KEY,
		user_id   INTEGER NOT NULL,
		hostname  TEXT NOT NULL,
		key       TEXT UNIQUE NOT NULL,
		remote_ip TEXT NOT NULL,
		created   INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	)`)
	return err
}

// Validate parses each cookie as "{uid}-{key}", discarding malformed
// entries, first deleting any session whose last_seen predates the
// 24-hour idle window. It tries each (uid, key) pair in order, and for
// the first one whose stored (user_id, hostname, remote_ip) matches
// exactly, refreshes last_seen and returns that uid.
func (s *Store) Validate(hostname string, cookies []string, remoteIP string) (int, bool, error) {
	if len(cookies) == 0 {
		return 0, false, nil
	}

	now := time.Now().Unix()
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE last_seen < ?`, now-int64(idleExpiry.Seconds())); err != nil {
		return 0, false, err
	}

	for _, cookie := range cookies {
		uid, key, ok := splitCookieValue(cookie)
		if !ok {
			continue
		}

		var gotUID int
		var gotHostname, gotRemoteIP string
		row := s.db.QueryRow(`SELECT user_id, hostname, remote_ip FROM sessions WHERE key = ?`, key)
		if err := row.Scan(&gotUID, &gotHostname, &gotRemoteIP); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return 0, false, err
		}
		if gotUID != uid || gotHostname != hostname || gotRemoteIP != remoteIP {
			continue
		}

		if _, err := s.db.Exec(`UPDATE sessions SET last_seen = ? WHERE key = ?`, now, key); err != nil {
			return 0, false, err
		}
		return uid, true, nil
	}

	return 0, false, nil
}

// splitCookieValue parses the atom-session cookie's "{uid}-{key}"
// format.
func splitCookieValue(cookie string) (uid int, key string, ok bool) {
	parts := strings.SplitN(cookie, "-", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return uid, parts[1], true
}

// Create inserts a new session row for uid scoped to hostname and
// remoteIP, and returns the cookie value "{uid}-{key}".
func (s *Store) Create(uid int, hostname, remoteIP string) (string, error) {
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	now := time.Now().Unix()
	_, err = s.db.Exec(
		`INSERT INTO sessions (user_id, hostname, key, remote_ip, created, last_seen) VALUES (?, ?, ?, ?, ?, ?)`,
		uid, hostname, key, remoteIP, now, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", uid, key), nil
}

// Delete removes every session row whose key is in keys. The cross-host
// handoff calls this for keys a client was still presenting after a new
// one validated; nothing else ever reaps a superseded key.
func (s *Store) Delete(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM sessions WHERE key IN (%s)`, placeholders), args...)
	return err
}

// generateKey draws 64 bytes of cryptographic randomness, mixes in the
// current time, and hashes the result with a 512-bit hash to produce a
// 128-hex-character key. The randomness alone is the contract; hashing
// in the timestamp only widens the input, it is not relied on for
// entropy.
func generateKey() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	h.Write(buf)
	fmt.Fprintf(h, "%d", time.Now().UnixNano())
	return hex.EncodeToString(h.Sum(nil)), nil
}
