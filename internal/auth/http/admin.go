package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// AdminHandler serves administrator-only endpoints.
type AdminHandler struct {
	Accounts *service.AccountService
}

// HandleForceLogout handles POST /v1/admin/users/{id}/logout
//
//	@Summary		Force a user to sign out everywhere
//	@Description	Bumps the user's token version, revoking every credential they hold. Requires the admin role.
//	@Tags			Admin
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string						true	"User id"
//	@Success		200	{object}	authsdk.ForceLogoutResponse	"New token version"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Not authenticated"
//	@Failure		403	{object}	authsdk.ErrorResponse		"Not an admin"
//	@Failure		404	{object}	authsdk.ErrorResponse		"No such user"
//	@Router			/v1/admin/users/{id}/logout [post].
func (h *AdminHandler) HandleForceLogout(w http.ResponseWriter, r *http.Request) {
	admin, ok := identity(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	tv, err := h.Accounts.ForceLogout(r.Context(), admin.UserID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.ForceLogoutResponse{UserID: userID, TokenVersion: tv})
}
