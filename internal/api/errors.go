package api

import (
	"errors"
	"fmt"
)

// AuthError indicates that the bearer token was rejected. It is returned
// for 401 and 403 responses.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusError is an unexpected non-2xx response.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status %d on %s %s", e.StatusCode, e.Method, e.Path)
	}
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Detail)
}

// errorResponse is the error body the backend sends with 4xx/5xx replies.
type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (r errorResponse) message() string {
	if r.Detail != "" {
		return r.Detail
	}
	return r.Error
}
