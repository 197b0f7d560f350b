package domain

import "time"

// MaxExchangeTTL caps how long an exchange code stays redeemable.
const MaxExchangeTTL = 5 * time.Minute

// ExchangeCode is the stored half of a one-time code. The plaintext code is
// never stored; it is the key that opens SealedPayload.
type ExchangeCode struct {
	CodeHash      string
	SealedPayload []byte
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// ExchangePayload is the credential triple handed to a desktop client,
// plus an optional refresh token for native devices.
type ExchangePayload struct {
	SessionToken string `json:"session_token"`
	DeviceToken  string `json:"device_token"`
	CSRFToken    string `json:"csrf_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	UserID       string `json:"user_id"`
	ExpiresAt    int64  `json:"session_expires_at"`
}
