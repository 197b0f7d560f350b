package domain

import "time"

// ScopeAll grants every scope.
const ScopeAll = "*"

// ServiceToken is a machine-to-machine credential presented as
// "Authorization: Bearer mcp_...".
type ServiceToken struct {
	ID         string
	TokenHash  string
	UserID     string
	Name       string
	Scopes     []string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}
