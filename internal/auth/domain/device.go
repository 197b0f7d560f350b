package domain

import "time"

// DeviceToken identifies one installed native client.
type DeviceToken struct {
	ID                   string
	TokenHash            string
	UserID               string
	DeviceID             string
	Platform             string
	DeviceName           string
	TokenVersionSnapshot int64
	CreatedAt            time.Time
	ExpiresAt            time.Time
	LastUsedAt           *time.Time
	RevokedAt            *time.Time
	RevokedReason        RevokeReason
}

// Usable iff not revoked and not yet expired. The token version is checked
// separately against the live user row.
func (d DeviceToken) Usable(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt)
}

// RefreshToken is a renewable credential scoped to exactly one device
// token. Rows are deleted rather than flagged.
type RefreshToken struct {
	ID            string
	TokenHash     string
	DeviceTokenID string
	UserID        string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}
