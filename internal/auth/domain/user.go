package domain

import "time"

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string
	Username     string
	Email        string // optional, unique when set
	PasswordHash string // argon2 encoded; empty for externally provisioned users
	Role         string
	TokenVersion int64  // only ever increases
	MFASecret    string // TOTP secret (base32), empty when MFA is off
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MFAEnabled reports whether the user must present a TOTP code at login.
func (u User) MFAEnabled() bool { return u.MFASecret != "" }
