package models

import "time"

// Credentials is everything needed to resume an authenticated session:
// the chat backend's session cookies and the bearer token of the
// secondary backend.
type Credentials struct {
	User    User
	Token   string
	Cookies []SessionCookie
	SavedAt time.Time
}

type SessionCookie struct {
	Name    string
	Value   string
	Path    string
	Expires time.Time
}

// Expired reports whether every cookie with an expiry is past it. A session
// without cookies or a token cannot be resumed.
func (c Credentials) Expired(now time.Time) bool {
	if len(c.Cookies) == 0 && c.Token == "" {
		return true
	}
	for _, ck := range c.Cookies {
		if ck.Expires.IsZero() || ck.Expires.After(now) {
			return false
		}
	}
	return len(c.Cookies) > 0
}
