package apstra

import (
	"errors"
	"fmt"
	"net/http"
)

const maxErrorBody = 512

// APIError is a non-2xx response from the controller
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Body)
}

// NotFound reports a 404
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody] + "..."
	}
	return &APIError{Method: method, Path: path, Status: status, Body: b}
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}

// IsNotFound reports whether err is a 404 from the controller
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
