package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/authn"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// SessionHandler serves endpoints acting on the caller's own account.
// Every route is behind authn.Require.
type SessionHandler struct {
	base
	Accounts *service.AccountService
	CSRF     *service.CSRFGuard
	Cookie   CookieConfig
}

// HandleMe handles GET /v1/auth/me
//
//	@Summary		Current user
//	@Description	Returns the caller and the scheme it authenticated with. Accepts every credential type.
//	@Tags			Session
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Security		DeviceToken
//	@Produce		json
//	@Success		200	{object}	authsdk.MeResponse		"Caller"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Not authenticated"
//	@Router			/v1/auth/me [get].
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	u, err := h.Accounts.Me(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MeResponse{
		UserResponse:  userResponse(u),
		Scheme:        string(id.Scheme),
		SessionID:     id.SessionID,
		DeviceTokenID: id.DeviceTokenID,
		Scopes:        id.Scopes,
	})
}

// HandleCSRF handles GET /v1/auth/csrf
//
//	@Summary		Fresh CSRF token
//	@Description	Issues a new CSRF token bound to the current session.
//	@Tags			Session
//	@Security		SessionCookie
//	@Produce		json
//	@Success		200	{object}	authsdk.CSRFResponse	"CSRF token"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Not authenticated"
//	@Router			/v1/auth/csrf [get].
func (h *SessionHandler) HandleCSRF(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.CSRFPolicy) {
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.CSRFResponse{CSRFToken: h.CSRF.Generate(id.SessionID)})
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Sign out
//	@Description	Revokes the current session and clears the cookie.
//	@Tags			Session
//	@Security		SessionCookie
//	@Param			X-CSRF-Token	header	string	true	"CSRF token"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"Not authenticated"
//	@Failure		403	{object}	authsdk.ErrorResponse	"CSRF token missing or wrong"
//	@Router			/v1/auth/logout [post].
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	if err := h.Accounts.Logout(r.Context(), id.SessionID); err != nil {
		writeError(w, r, err)
		return
	}

	h.Cookie.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll handles POST /v1/auth/logout-all
//
//	@Summary		Sign out everywhere
//	@Description	Bumps the token version, revoking every session, device token, access token
//	@Description	and refresh token of the user.
//	@Tags			Session
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.LogoutAllResponse	"New token version"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Not authenticated"
//	@Failure		403	{object}	authsdk.ErrorResponse		"CSRF token missing or wrong"
//	@Router			/v1/auth/logout-all [post].
func (h *SessionHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	tv, err := h.Accounts.LogoutEverywhere(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if id.Scheme == authn.SchemeSession {
		h.Cookie.clear(w)
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutAllResponse{TokenVersion: tv})
}

// HandleChangePassword handles POST /v1/auth/password
//
//	@Summary		Change password
//	@Description	Changes the password, invalidates every credential of the user and returns a fresh session.
//	@Tags			Session
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		200		{object}	authsdk.LoginResponse			"New session cookie is set"
//	@Failure		400		{object}	authsdk.ValidationErrorResponse	"Validation failed"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Wrong current password"
//	@Failure		429		{object}	authsdk.ErrorResponse			"Rate limited"
//	@Router			/v1/auth/password [post].
func (h *SessionHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.PasswordChangePolicy) {
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req authsdk.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Accounts.ChangePassword(r.Context(), service.ChangePasswordRequest{
		UserID:          id.UserID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		IP:              h.clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Limiter.ResetQuietly(r.Context(), h.clientIP(r), service.PasswordChangePolicy)
	h.Cookie.set(w, res.Session.Token)
	httpx.WriteJSON(w, http.StatusOK, loginResponse(res))
}

// HandleEnrollTOTP handles POST /v1/auth/mfa/totp
//
//	@Summary		Start TOTP enrollment
//	@Description	Generates a TOTP secret. Nothing is stored until the secret is confirmed.
//	@Tags			MFA
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TOTPEnrollResponse	"Secret and otpauth URL"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Not authenticated"
//	@Router			/v1/auth/mfa/totp [post].
func (h *SessionHandler) HandleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	enroll, err := h.Accounts.EnrollTOTP(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TOTPEnrollResponse{Secret: enroll.Secret, URL: enroll.URL})
}

// HandleConfirmTOTP handles POST /v1/auth/mfa/totp/confirm
//
//	@Summary		Confirm TOTP enrollment
//	@Description	Stores the secret once a code generated from it is presented. Login then requires a TOTP code.
//	@Description	Replacing an enrolled secret also requires current_code from the old one.
//	@Tags			MFA
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.TOTPConfirmRequest	true	"Secret and code"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid code"
//	@Router			/v1/auth/mfa/totp/confirm [post].
func (h *SessionHandler) HandleConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.TOTPConfirmPolicy) {
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req authsdk.TOTPConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.Accounts.ConfirmTOTP(r.Context(), service.ConfirmTOTPRequest{
		UserID:      id.UserID,
		Secret:      req.Secret,
		Code:        req.Code,
		CurrentCode: req.CurrentCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Limiter.ResetQuietly(r.Context(), h.clientIP(r), service.TOTPConfirmPolicy)
	w.WriteHeader(http.StatusNoContent)
}
