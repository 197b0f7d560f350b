package http

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/authn"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// ExchangeHandler serves the endpoints used by native and desktop clients
// that never see a cookie: code exchange, refresh and desktop sign-in.
type ExchangeHandler struct {
	base
	Accounts *service.AccountService
	Exchange *service.ExchangeService
	Devices  *service.DeviceService
	Cookie   CookieConfig

	// DesktopRedirectURI, when set, is returned with the code appended as
	// the "code" query parameter.
	DesktopRedirectURI string
}

// HandleExchange handles POST /v1/auth/exchange
//
//	@Summary		Redeem a one-time exchange code
//	@Description	Returns the session token, device token and CSRF token parked behind the code
//	@Description	and sets the session cookie. Each code can be redeemed exactly once.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ExchangeRequest		true	"Code"
//	@Success		200		{object}	authsdk.ExchangeResponse	"Credential triple"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Invalid, expired or used code"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Rate limited"
//	@Failure		503		{object}	authsdk.ErrorResponse		"Rate limiter unavailable"
//	@Router			/v1/auth/exchange [post].
func (h *ExchangeHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.ExchangePolicy) {
		return
	}

	var req authsdk.ExchangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Exchange.Consume(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Cookie.set(w, p.SessionToken)
	httpx.WriteJSON(w, http.StatusOK, authsdk.ExchangeResponse{
		SessionToken:     p.SessionToken,
		DeviceToken:      p.DeviceToken,
		CSRFToken:        p.CSRFToken,
		RefreshToken:     p.RefreshToken,
		UserID:           p.UserID,
		SessionExpiresAt: p.ExpiresAt,
	})
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Rotate a refresh token
//	@Description	Spends the refresh token and returns a new one with a fresh access token.
//	@Description	The refresh token is only accepted together with the device token it was issued to.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			X-Device-Token	header		string						true	"Device token"
//	@Param			request			body		authsdk.RefreshRequest		true	"Refresh token"
//	@Success		200				{object}	authsdk.RefreshResponse		"New access and refresh tokens"
//	@Failure		401				{object}	authsdk.ErrorResponse		"invalid_grant or token_version_mismatch"
//	@Failure		429				{object}	authsdk.ErrorResponse		"Rate limited"
//	@Failure		503				{object}	authsdk.ErrorResponse		"Rate limiter unavailable"
//	@Router			/v1/auth/refresh [post].
func (h *ExchangeHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.RefreshPolicy) {
		return
	}

	deviceToken := strings.TrimSpace(r.Header.Get(authsdk.HeaderDeviceToken))
	if deviceToken == "" {
		authn.ErrUnauthenticated.WriteError(w)
		return
	}

	var req authsdk.RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Devices.RedeemRefreshToken(r.Context(), req.RefreshToken, deviceToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RefreshResponse{
		AccessToken:  res.Bearer.Token,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(res.Bearer.ExpiresAt),
		RefreshToken: res.RefreshToken.Token,
	})
}

// HandleDesktopSignIn handles POST /v1/auth/oidc/desktop
//
//	@Summary		Desktop sign-in with an external ID token
//	@Description	Verifies the ID token against the configured identity provider, signs the user in
//	@Description	on the given device and returns a one-time code for /v1/auth/exchange.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.DesktopSignInRequest	true	"ID token and device"
//	@Success		200		{object}	authsdk.DesktopSignInResponse	"One-time code"
//	@Failure		401		{object}	authsdk.ErrorResponse			"ID token rejected"
//	@Failure		429		{object}	authsdk.ErrorResponse			"Rate limited"
//	@Failure		503		{object}	authsdk.ErrorResponse			"Rate limiter unavailable"
//	@Router			/v1/auth/oidc/desktop [post].
func (h *ExchangeHandler) HandleDesktopSignIn(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.ExchangePolicy) {
		return
	}

	var req authsdk.DesktopSignInRequest
	if !h.decode(w, r, &req) {
		return
	}

	code, expiresAt, err := h.Accounts.DesktopSignIn(r.Context(), service.DesktopSignInRequest{
		IDToken:    req.IDToken,
		DeviceID:   req.DeviceID,
		Platform:   req.Platform,
		DeviceName: req.DeviceName,
		IP:         h.clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := authsdk.DesktopSignInResponse{
		Code:      code,
		ExpiresIn: max(int(time.Until(expiresAt).Seconds()), 1),
	}
	if h.DesktopRedirectURI != "" {
		if u, err := url.Parse(h.DesktopRedirectURI); err == nil {
			q := u.Query()
			q.Set("code", code)
			u.RawQuery = q.Encode()
			resp.RedirectURI = u.String()
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
