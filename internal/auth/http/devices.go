package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// DevicesHandler lists and revokes the caller's device tokens.
type DevicesHandler struct {
	base
	Devices *service.DeviceService
}

// HandleList handles GET /v1/devices
//
//	@Summary		List devices
//	@Description	Lists the caller's active device tokens. "current" marks the device making the request.
//	@Tags			Devices
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Security		DeviceToken
//	@Produce		json
//	@Success		200	{object}	authsdk.DeviceListResponse	"Devices"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Not authenticated"
//	@Router			/v1/devices [get].
func (h *DevicesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r, service.DeviceListPolicy) {
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}

	devices, err := h.Devices.ListDevices(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := authsdk.DeviceListResponse{Devices: make([]authsdk.DeviceResponse, 0, len(devices))}
	for _, d := range devices {
		out.Devices = append(out.Devices, deviceResponse(d, id.DeviceTokenID))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleRevoke handles DELETE /v1/devices/{id}
//
//	@Summary		Revoke a device
//	@Description	Revokes the device token, deletes its refresh tokens and revokes sessions minted for it,
//	@Description	all in one transaction. requires_logout is set when the caller revoked its own device.
//	@Tags			Devices
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Security		DeviceToken
//	@Produce		json
//	@Param			id	path		string							true	"Device token id"
//	@Success		200	{object}	authsdk.RevokeDeviceResponse	"Cascade result"
//	@Failure		401	{object}	authsdk.ErrorResponse			"Not authenticated"
//	@Failure		404	{object}	authsdk.ErrorResponse			"No such device for this user"
//	@Router			/v1/devices/{id} [delete].
func (h *DevicesHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	deviceTokenID, ok := pathID(w, r)
	if !ok {
		return
	}

	// A native client on a bearer still names its device in the header.
	current := deviceTokenID == id.DeviceTokenID
	if dt := strings.TrimSpace(r.Header.Get(authsdk.HeaderDeviceToken)); !current && dt != "" {
		match, err := h.Devices.IsPresentedToken(r.Context(), dt, deviceTokenID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		current = match
	}

	res, err := h.Devices.RevokeDeviceToken(r.Context(), deviceTokenID, id.UserID, domain.RevokeUserAction)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if current {
		slogx.FromContext(r.Context()).Info("caller revoked its own device", "device_token_id", deviceTokenID)
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeDeviceResponse{
		Revoked:              true,
		RequiresLogout:       current,
		RefreshTokensDeleted: res.RefreshTokensDeleted,
		SessionsRevoked:      res.SessionsRevoked,
	})
}

func deviceResponse(d domain.DeviceToken, currentID string) authsdk.DeviceResponse {
	return authsdk.DeviceResponse{
		ID:         d.ID,
		DeviceID:   d.DeviceID,
		Platform:   d.Platform,
		DeviceName: d.DeviceName,
		CreatedAt:  d.CreatedAt,
		ExpiresAt:  d.ExpiresAt,
		LastUsedAt: d.LastUsedAt,
		Current:    d.ID == currentID,
	}
}
