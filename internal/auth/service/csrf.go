package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

// csrfSkew tolerates small clock drift between instances.
const csrfSkew = 30 * time.Second

// CSRFGuard issues and checks stateless CSRF tokens bound to a session id:
//
//	<issuedAtUnix>.<base64url(HMAC-SHA256(secret, "csrf/v1|" + sessionID + "|" + issuedAt))>
type CSRFGuard struct {
	Secret []byte
	MaxAge time.Duration
	Now    func() time.Time
}

func (g *CSRFGuard) mac(sessionID, issuedAt string) string {
	m := hmac.New(sha256.New, g.Secret)
	m.Write([]byte("csrf/v1|" + sessionID + "|" + issuedAt))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

// Generate returns a token for sessionID.
func (g *CSRFGuard) Generate(sessionID string) string {
	issuedAt := strconv.FormatInt(clock(g.Now).Unix(), 10)
	return issuedAt + "." + g.mac(sessionID, issuedAt)
}

// Verify reports whether token was generated for sessionID and is neither
// older than MaxAge nor from the future.
func (g *CSRFGuard) Verify(token, sessionID string) bool {
	if sessionID == "" || len(g.Secret) == 0 {
		return false
	}

	issuedAt, sig, ok := strings.Cut(token, ".")
	if !ok || issuedAt == "" || sig == "" {
		return false
	}
	unix, err := strconv.ParseInt(issuedAt, 10, 64)
	if err != nil {
		return false
	}

	now := clock(g.Now)
	ts := time.Unix(unix, 0)
	if ts.After(now.Add(csrfSkew)) {
		return false
	}
	if g.MaxAge > 0 && now.Sub(ts) > g.MaxAge {
		return false
	}

	return cryptox.ConstantTimeEquals(sig, g.mac(sessionID, issuedAt))
}
