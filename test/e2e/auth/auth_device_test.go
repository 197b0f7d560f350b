package auth_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func nativeLogin(t *testing.T, client *authsdk.Client, deviceID string) (*authsdk.Session, *authsdk.NativeLoginResponse) {
	t.Helper()
	session, resp, err := client.NativeLogin(t.Context(), authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     deviceID,
		Platform:     "ios",
		DeviceName:   "e2e " + deviceID,
	})
	require.NoError(t, err, "native login should succeed")
	require.NotEmpty(t, resp.DeviceToken)
	require.NotEmpty(t, resp.RefreshToken)
	return session, resp
}

// TestRefreshRotation verifies refresh tokens are single use and bound to
// their device token.
func TestRefreshRotation(t *testing.T) {
	client := setupAuthContainer(t, nil)
	ctx := t.Context()
	registerUser(t, client, "alice")

	_, phone := nativeLogin(t, client, "phone")
	_, tablet := nativeLogin(t, client, "tablet")

	rotated, err := client.Refresh(ctx, phone.RefreshToken, phone.DeviceToken)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)

	_, err = client.Refresh(ctx, phone.RefreshToken, phone.DeviceToken)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)

	_, err = client.Refresh(ctx, rotated.RefreshToken, tablet.DeviceToken)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)
}

// TestRevokeDeviceCascade revokes the caller's own device and checks that
// everything issued from it stops working.
func TestRevokeDeviceCascade(t *testing.T) {
	client := setupAuthContainer(t, nil)
	ctx := t.Context()
	registerUser(t, client, "alice")

	phone, login := nativeLogin(t, client, "phone")

	devices, err := phone.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices.Devices, 1)
	require.True(t, devices.Devices[0].Current)

	res, err := phone.RevokeDevice(ctx, login.DeviceTokenID)
	require.NoError(t, err)
	require.True(t, res.RequiresLogout)

	_, err = phone.Me(ctx)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)

	_, err = client.Refresh(ctx, login.RefreshToken, login.DeviceToken)
	assertAPIError(t, err, http.StatusUnauthorized, "")
}
