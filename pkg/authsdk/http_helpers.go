package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// doRequest performs an HTTP request with the Client's HTTP client. A non-nil
// payload is encoded as the JSON body.
func (c *Client) doRequest(
	ctx context.Context,
	method, path string,
	payload any,
	headers map[string]string,
	cookies ...*http.Cookie,
) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// doAuthRequest sends every credential the session holds. The server picks
// one by its fixed precedence.
func (s *Session) doAuthRequest(
	ctx context.Context,
	method, path string,
	payload any,
) (*http.Response, error) {
	s.mu.RLock()
	headers := map[string]string{}
	var cookies []*http.Cookie
	if s.sessionToken != "" {
		cookies = append(cookies, &http.Cookie{Name: s.client.CookieName, Value: s.sessionToken})
	}
	if s.csrfToken != "" && method != http.MethodGet {
		headers[HeaderCSRF] = s.csrfToken
	}
	switch {
	case s.serviceToken != "":
		headers["Authorization"] = "Bearer " + s.serviceToken
	case s.accessToken != "":
		headers["Authorization"] = "Bearer " + s.accessToken
	}
	if s.deviceToken != "" {
		headers[HeaderDeviceToken] = s.deviceToken
	}
	s.mu.RUnlock()

	return s.client.doRequest(ctx, method, path, payload, headers, cookies...)
}

// decodeJSON decodes a JSON response into the target interface.
// Returns an *APIError if the status is not the expected one.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		if apiErr := parseErrorResponse(resp, bodyBytes); apiErr != nil {
			return apiErr
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// checkStatusNoContent returns a typed error if the response status is not 204 No Content.
func checkStatusNoContent(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorResponse(resp, bodyBytes); apiErr != nil {
			return apiErr
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

// sessionCookie returns the named cookie's value from a response, if set.
func sessionCookie(resp *http.Response, name string) string {
	for _, ck := range resp.Cookies() {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}
