package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Sentinel errors matched with errors.Is against an *APIError.
var (
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrForbidden    = errors.New("backend: forbidden")
	ErrNotFound     = errors.New("backend: not found")
	ErrNoBaseURL    = errors.New("backend: base URL is not configured")
)

// APIError is a non-2xx response from the backend. Code is the backend's
// structured error code when the body carried one.
type APIError struct {
	Status  int
	Code    string
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend: %s %s: HTTP %d %s: %s", e.Method, e.Path, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("backend: %s %s: HTTP %d: %s", e.Method, e.Path, e.Status, msg)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Category is the coarse class of a failure.
type Category string

const (
	CategoryNetwork Category = "network"
	CategoryHTTP    Category = "http"
	CategoryAPI     Category = "api"
	CategoryUnknown Category = "unknown"
)

// ErrorInfo is what a caller needs to present a failure.
type ErrorInfo struct {
	Category  Category `json:"category"`
	Status    int      `json:"status,omitempty"`
	Code      string   `json:"code,omitempty"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
}

// Structured error codes returned by the backend.
var apiCodeMessages = map[string]string{
	"ERROR_CODE_ACCESS_DENIED":     "You do not have permission to perform this action.",
	"ERROR_CODE_UNAUTHORIZED":      "Your session has expired. Please log in again.",
	"ERROR_CODE_NOT_FOUND":         "The requested item was not found.",
	"ERROR_CODE_INPUT_ERROR":       "Some fields are invalid. Please check your input.",
	"ERROR_CODE_BAD_REQUEST":       "The request could not be processed.",
	"ERROR_CODE_TOO_MANY_REQUESTS": "Too many requests. Please wait a moment and try again.",
	"ERROR_FATAL":                  "The server encountered an error. Please try again.",
	"INVALID_INPUT":                "Some fields are invalid. Please check your input.",
}

// Classify categorizes err. 5xx, 408, 429 and network failures are retryable;
// other 4xx responses and cancellations are not.
func Classify(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		info := ErrorInfo{
			Category:  CategoryHTTP,
			Status:    apiErr.Status,
			Code:      apiErr.Code,
			Message:   statusMessage(apiErr.Status),
			Retryable: retryableStatus(apiErr.Status),
		}
		if apiErr.Code != "" {
			info.Category = CategoryAPI
			if msg, ok := apiCodeMessages[apiErr.Code]; ok {
				info.Message = msg
			} else if apiErr.Message != "" {
				info.Message = apiErr.Message
			}
		}
		return info
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorInfo{Category: CategoryUnknown, Message: "The request was cancelled."}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorInfo{Category: CategoryNetwork, Message: "The request timed out. Please try again.", Retryable: true}
	case errors.Is(err, ErrNoBaseURL):
		return ErrorInfo{Category: CategoryUnknown, Message: "The backend is not configured."}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return ErrorInfo{
			Category:  CategoryNetwork,
			Message:   "Unable to reach the server. Check your connection and try again.",
			Retryable: true,
		}
	}

	return ErrorInfo{Category: CategoryUnknown, Message: err.Error()}
}

// IsRetryable reports whether retrying the failed request may succeed.
func IsRetryable(err error) bool { return Classify(err).Retryable }

// Message returns a human-readable description of err.
func Message(err error) string { return Classify(err).Message }

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

func statusMessage(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "The request was invalid. Please check your input."
	case status == http.StatusUnauthorized:
		return "Your session has expired. Please log in again."
	case status == http.StatusForbidden:
		return "You do not have permission to perform this action."
	case status == http.StatusNotFound:
		return "The requested item was not found."
	case status == http.StatusConflict:
		return "This item was changed by someone else. Reload and try again."
	case status == http.StatusUnprocessableEntity:
		return "Some fields are invalid. Please check your input."
	case status == http.StatusRequestTimeout:
		return "The request timed out. Please try again."
	case status == http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case status >= 500:
		return "The server encountered an error. Please try again."
	case status >= 400:
		return fmt.Sprintf("The request failed (HTTP %d).", status)
	}
	return "Unexpected response from the server."
}
