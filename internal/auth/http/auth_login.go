package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// LoginHandler serves the credential-issuing endpoints that take a password.
type LoginHandler struct {
	base
	Accounts *service.AccountService
	Cookie   CookieConfig
}

// HandleRegister handles POST /v1/auth/register
//
//	@Summary		Register an account
//	@Description	Creates an account and signs it in. The first account becomes an admin.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RegisterRequest				true	"Account details"
//	@Success		201		{object}	authsdk.LoginResponse				"Session cookie is set"
//	@Failure		400		{object}	authsdk.ValidationErrorResponse		"Validation failed"
//	@Failure		409		{object}	authsdk.ErrorResponse				"Username or email taken"
//	@Failure		429		{object}	authsdk.ErrorResponse				"Rate limited"
//	@Failure		503		{object}	authsdk.ErrorResponse				"Rate limiter unavailable"
//	@Router			/v1/auth/register [post].
func (h *LoginHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.RegisterPolicy) {
		return
	}

	var req authsdk.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Accounts.Register(r.Context(), service.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IP:       h.clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Cookie.set(w, res.Session.Token)
	httpx.WriteJSON(w, http.StatusCreated, loginResponse(res))
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Sign in with a password
//	@Description	Revokes every earlier session of the user and sets a fresh session cookie.
//	@Description	Accounts with TOTP enabled must send totp_code.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.LoginResponse	"Session cookie is set"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials, mfa_required or invalid_code"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Rate limited"
//	@Failure		503		{object}	authsdk.ErrorResponse	"Rate limiter unavailable"
//	@Router			/v1/auth/login [post].
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.LoginPolicy) {
		return
	}

	var req authsdk.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Accounts.Login(r.Context(), service.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		TOTPCode: req.TOTPCode,
		IP:       h.clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Limiter.ResetQuietly(r.Context(), h.clientIP(r), service.LoginPolicy)

	h.Cookie.set(w, res.Session.Token)
	httpx.WriteJSON(w, http.StatusOK, loginResponse(res))
}

// HandleNativeLogin handles POST /v1/auth/native
//
//	@Summary		Sign in an installed client
//	@Description	Like login, but also issues or reuses a device token and issues a refresh token.
//	@Description	A still-valid device_token for the same device is returned unchanged.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.NativeLoginRequest	true	"Credentials and device"
//	@Success		200		{object}	authsdk.NativeLoginResponse	"Session, device and refresh tokens"
//	@Failure		401		{object}	authsdk.ErrorResponse		"invalid_credentials, mfa_required or invalid_code"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Rate limited"
//	@Failure		503		{object}	authsdk.ErrorResponse		"Rate limiter unavailable"
//	@Router			/v1/auth/native [post].
func (h *LoginHandler) HandleNativeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.LoginPolicy) {
		return
	}

	var req authsdk.NativeLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Accounts.NativeLogin(r.Context(), service.NativeLoginRequest{
		LoginRequest: service.LoginRequest{
			Username: req.Username,
			Password: req.Password,
			TOTPCode: req.TOTPCode,
			IP:       h.clientIP(r),
		},
		DeviceToken: req.DeviceToken,
		DeviceID:    req.DeviceID,
		Platform:    req.Platform,
		DeviceName:  req.DeviceName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Limiter.ResetQuietly(r.Context(), h.clientIP(r), service.LoginPolicy)

	httpx.WriteJSON(w, http.StatusOK, authsdk.NativeLoginResponse{
		LoginResponse: loginResponse(res.LoginResult),
		SessionToken:  res.Session.Token,
		DeviceToken:   res.Device.Token,
		DeviceTokenID: res.Device.ID,
		DeviceReused:  res.Device.Reused,
		RefreshToken:  res.Refresh.Token,
	})
}
