/*
Package authsdk is a small Go client for the authcore HTTP API and
the home of the request and response types the server speaks.

# Client vs Session

  - Client: unauthenticated operations (register, login, exchange, refresh)
  - Session: operations on behalf of a signed-in user

A browser-style login returns a Session carrying the session cookie and its
CSRF token. Mutating calls send both:

	client := authsdk.NewClient("https://auth.example.com")
	session, err := client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: pw})

	me, err := session.Me(ctx)
	err = session.Logout(ctx)

Native clients also receive a device token and a refresh token:

	session, creds, err := client.NativeLogin(ctx, authsdk.NativeLoginRequest{...})
	fresh, err := client.Refresh(ctx, creds.RefreshToken, creds.DeviceToken)

Desktop clients that sign in through an external identity provider redeem a
one-time code:

	session, creds, err := client.Exchange(ctx, code)

# Errors

Every non-2xx response is returned as *APIError:

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == authsdk.ErrorCodeRateLimited {
		time.Sleep(apiErr.RetryAfter)
	}
*/
package authsdk
