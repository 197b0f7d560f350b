package domain

import "time"

// Subject types
const (
	SubjectUser    = "user"
	SubjectService = "service"
)

// RevokeReason records why a session or device token stopped being usable.
type RevokeReason string

const (
	RevokeUserAction  RevokeReason = "user_action"
	RevokeNewLogin    RevokeReason = "new_login"
	RevokeAdminAction RevokeReason = "admin_action"
	RevokeExpired     RevokeReason = "expired"
)

// Valid reports whether r is one of the known reasons.
func (r RevokeReason) Valid() bool {
	switch r {
	case RevokeUserAction, RevokeNewLogin, RevokeAdminAction, RevokeExpired:
		return true
	}
	return false
}

// Session is one logged-in browser or app instance. Only the hash of the
// session token is stored.
type Session struct {
	ID            string
	TokenHash     string
	UserID        string
	SubjectType   string
	Scopes        []string // "*" means unrestricted
	DeviceTokenID string   // set when the session was minted for a native device
	CreatedAt     time.Time
	ExpiresAt     time.Time
	CreatedByIP   string
	LastUsedAt    *time.Time
	RevokedAt     *time.Time
	RevokedReason RevokeReason
}

// Usable iff not revoked and not yet expired.
func (s Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionWithUser is a session joined with the live fields of its owner,
// read in a single query so validation never sees a stale role or version.
type SessionWithUser struct {
	Session
	Role         string
	TokenVersion int64
}
