// Package rsyncdconfig holds the daemon module configuration the top-level
// rsyncd.Server consumes: a plain Go struct, not a parser for any
// particular config file format (spec.md §6, "Daemon config ... Out of
// scope otherwise").
package rsyncdconfig

import "github.com/zrsync/rrsync/internal/session"

// AuthUser is one entry in a Module's password database. Passwords are
// held in memory only for the lifetime of the process; nothing here reads
// or writes a secrets file.
type AuthUser struct {
	Name     string
	Password string
}

// Auth gates access to a Module behind the daemon challenge-response
// scheme (spec.md §4.5/§6). A nil *Auth on a Module means the module
// requires no authentication.
type Auth struct {
	Users []AuthUser
}

// Authenticate returns the challenge response expected from user for
// challenge, and whether user is configured at all, matching
// internal/session.ModuleAuthenticator.
func (a *Auth) Authenticate(user, challenge string) (expectedResponse string, ok bool) {
	if a == nil {
		return "", false
	}
	for _, u := range a.Users {
		if u.Name == user {
			return session.AuthChallengeResponse([]byte(u.Password), challenge), true
		}
	}
	return "", false
}

// Module describes one rsync daemon module: a name clients request by,
// the local directory it exposes, an optional comment shown in the module
// listing, whether it accepts writes, an IP allow/deny ACL, and optional
// auth.
type Module struct {
	Name     string
	Path     string
	Comment  string
	ReadOnly bool
	ACL      []string
	Auth     *Auth
}
