package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// APIError captures a non-2xx backend response.
type APIError struct {
	StatusCode int
	Status     string // "404 Not Found"
	Method     string
	URL        string
	Message    string // extracted from the body, see messageFromBody
	Body       string
}

func (e *APIError) Error() string {
	return "api request failed: " + e.Message
}

// IsUnauthorized reports a 401 from the backend (token rejected).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err wraps a 401 APIError.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsUnauthorized()
}

func newAPIError(method, url string, res *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	return &APIError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Method:     method,
		URL:        url,
		Message:    messageFromBody(raw, res.Status),
		Body:       string(raw),
	}
}

// messageFromBody prefers the backend's "error", then "detail", then
// "message" fields; any other JSON body is returned verbatim, and a body
// that is not JSON falls back to the HTTP status line.
func messageFromBody(raw []byte, status string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return status
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if s, ok := fields[key].(string); ok && s != "" {
				return s
			}
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}
