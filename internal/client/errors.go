package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrSessionExpired is returned for every 401 response. Its message is shown
// to operators as-is.
var ErrSessionExpired = errors.New("session expired, please sign in again")

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// ValidationError is raised before a request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// errorBody covers the error shapes the backend produces: {"detail": "..."}
// from request validation and {"code", "message"} from the domain handlers.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
}

// newResponseError builds the error for a non-2xx status and body.
func newResponseError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return ErrSessionExpired
	}

	apiErr := &APIError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.Code
		apiErr.Details = eb.Details
		switch {
		case eb.Message != "":
			apiErr.Message = eb.Message
		case len(eb.Detail) > 0:
			apiErr.Message = detailMessage(eb.Detail)
		case eb.Error != "":
			apiErr.Message = eb.Error
		}
	}

	if apiErr.Message == "" {
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = http.StatusText(status)
		}
		apiErr.Message = text
	}
	return apiErr
}

// detailMessage flattens "detail", which is either a string or a list of
// validation issues carrying a "msg".
func detailMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var issues []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &issues); err == nil {
		msgs := make([]string, 0, len(issues))
		for _, i := range issues {
			if i.Msg != "" {
				msgs = append(msgs, i.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return string(raw)
}
