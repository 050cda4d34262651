package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed API error carried from services up to the HTTP boundary.
// Status is the HTTP status the handler should respond with; Code is the
// stable machine-readable code in the error envelope.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(err error) *Error {
	return New(http.StatusBadRequest, "validation_error", err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, "unauthorized", err)
}

func Forbidden(err error) *Error {
	return New(http.StatusForbidden, "forbidden", err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, "not_found", err)
}

func Timeout(err error) *Error {
	return New(http.StatusRequestTimeout, "timeout", err)
}

func Quota(err error) *Error {
	return New(http.StatusTooManyRequests, "quota_exceeded", err)
}

func Unavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, "persistence_unavailable", err)
}

func Upstream(err error) *Error {
	return New(http.StatusBadGateway, "upstream_model_error", err)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, "internal_error", err)
}

// AsError unwraps err into a typed *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
