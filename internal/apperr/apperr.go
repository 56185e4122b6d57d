// Package apperr defines the gateway's error taxonomy and its HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeAuthMissing           Code = "AUTH_MISSING"
	CodeAuthInvalid           Code = "AUTH_INVALID"
	CodeDailyLimitExceeded    Code = "DAILY_LIMIT_EXCEEDED"
	CodeTooSoon               Code = "TOO_SOON"
	CodeHistoryWindowExceeded Code = "HISTORY_WINDOW_EXCEEDED"
	CodeRangeTooLarge         Code = "RANGE_TOO_LARGE"
	CodeUpstreamFetchFailed   Code = "UPSTREAM_FETCH_FAILED"
	CodePersistenceError      Code = "PERSISTENCE_ERROR"
	CodeInvalidParams         Code = "INVALID_PARAMS"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
)

var statusByCode = map[Code]int{
	CodeAuthMissing:           http.StatusUnauthorized,
	CodeAuthInvalid:           http.StatusForbidden,
	CodeDailyLimitExceeded:    http.StatusTooManyRequests,
	CodeTooSoon:               http.StatusTooManyRequests,
	CodeHistoryWindowExceeded: http.StatusForbidden,
	CodeRangeTooLarge:         http.StatusBadRequest,
	CodeUpstreamFetchFailed:   http.StatusInternalServerError,
	CodePersistenceError:      http.StatusInternalServerError,
	CodeInvalidParams:         http.StatusBadRequest,
	CodeNotFound:              http.StatusNotFound,
	CodeConflict:              http.StatusConflict,
}

// HTTPStatus maps a code to its response status. Unknown codes are 500.
func HTTPStatus(code Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type Error struct {
	Code    Code
	Message string
	// Details is surfaced to the caller, e.g. the provider's error message.
	Details    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func InvalidParams(format string, args ...any) *Error {
	return New(CodeInvalidParams, fmt.Sprintf(format, args...))
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
