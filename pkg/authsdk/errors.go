package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes returned in the "error" field.
const (
	ErrorCodeUnauthenticated        = "unauthenticated"
	ErrorCodeCredentialExpired      = "credential_expired"
	ErrorCodeCredentialRevoked      = "credential_revoked"
	ErrorCodeTokenVersionMismatch   = "token_version_mismatch"
	ErrorCodeMalformedCredential    = "malformed_credential"
	ErrorCodeMissingCSRF            = "missing_csrf"
	ErrorCodeCSRFMismatch           = "csrf_mismatch"
	ErrorCodeRateLimited            = "rate_limited"
	ErrorCodeInsufficientScope      = "insufficient_scope"
	ErrorCodeForbidden              = "forbidden"
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"
	ErrorCodeServerError            = "server_error"

	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeValidation         = "validation_error"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeMFARequired        = "mfa_required"
	ErrorCodeInvalidCode        = "invalid_code"
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeConflict           = "conflict"
	ErrorCodeNotFound           = "not_found"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode    int
	Code          string
	Description   string
	RequiredScope string
	RetryAfter    time.Duration
	Details       map[string]string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Description)
}

// parseErrorResponse turns an error response into an *APIError. Returns nil
// for 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Error
		apiErr.Description = errResp.ErrorDescription
		apiErr.RequiredScope = errResp.RequiredScope
		return apiErr
	}

	var valErr ValidationErrorResponse
	if err := json.Unmarshal(body, &valErr); err == nil && valErr.Code != "" {
		apiErr.Code = valErr.Code
		apiErr.Description = valErr.Message
		apiErr.Details = valErr.Details
		return apiErr
	}

	apiErr.Code = ErrorCodeServerError
	apiErr.Description = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return apiErr
}
