package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError represents an error response from the API. The server answers
// with RFC 7807 problem documents; health probes answer with an envelope
// carrying an "error" field.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Title != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	default:
		return http.StatusText(e.StatusCode)
	}
}

// IsAuthError returns true if this is an authentication error.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsConflict returns true if this is a conflict error.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsUnavailable returns true if the server reported itself not ready.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	var doc struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &doc) == nil {
		apiErr.Title = doc.Title
		apiErr.Detail = doc.Detail
		if apiErr.Detail == "" {
			apiErr.Detail = doc.Error
		}
	}
	if apiErr.Title == "" && apiErr.Detail == "" && len(body) > 0 && len(body) < 512 {
		apiErr.Detail = string(body)
	}
	return apiErr
}
