package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// ServiceTokensHandler manages the caller's mcp_ tokens.
type ServiceTokensHandler struct {
	base
	Tokens *service.ServiceTokenService
}

// HandleCreate handles POST /v1/service-tokens
//
//	@Summary		Create a service token
//	@Description	Mints an "mcp_" token limited to the given scopes. The token is only shown once.
//	@Tags			Service Tokens
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ServiceTokenRequest		true	"Name and scopes"
//	@Success		201		{object}	authsdk.ServiceTokenResponse	"Token"
//	@Failure		400		{object}	authsdk.ValidationErrorResponse	"Validation failed"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Not authenticated"
//	@Router			/v1/service-tokens [post].
func (h *ServiceTokensHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req authsdk.ServiceTokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	tok, err := h.Tokens.Issue(r.Context(), id.UserID, req.Name, req.Scopes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authsdk.ServiceTokenResponse{
		ID:     tok.ID,
		Token:  tok.Token,
		Name:   tok.Name,
		Scopes: tok.Scopes,
	})
}

// HandleList handles GET /v1/service-tokens
//
//	@Summary		List service tokens
//	@Tags			Service Tokens
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.ServiceTokenListResponse	"Tokens, without secrets"
//	@Failure		401	{object}	authsdk.ErrorResponse				"Not authenticated"
//	@Router			/v1/service-tokens [get].
func (h *ServiceTokensHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	tokens, err := h.Tokens.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := authsdk.ServiceTokenListResponse{Tokens: make([]authsdk.ServiceTokenResponse, 0, len(tokens))}
	for _, t := range tokens {
		out.Tokens = append(out.Tokens, serviceTokenResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleRevoke handles DELETE /v1/service-tokens/{id}
//
//	@Summary		Revoke a service token
//	@Tags			Service Tokens
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Service token id"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"Not authenticated"
//	@Failure		404	{object}	authsdk.ErrorResponse	"No such token for this user"
//	@Router			/v1/service-tokens/{id} [delete].
func (h *ServiceTokensHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	tokenID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Tokens.Revoke(r.Context(), tokenID, id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func serviceTokenResponse(t domain.ServiceToken) authsdk.ServiceTokenResponse {
	return authsdk.ServiceTokenResponse{
		ID:         t.ID,
		Name:       t.Name,
		Scopes:     t.Scopes,
		CreatedAt:  t.CreatedAt,
		LastUsedAt: t.LastUsedAt,
		Revoked:    t.RevokedAt != nil,
	}
}
