package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeCatalogError     ErrorCode = "CATALOG_ERROR"
	CodeServiceNotFound  ErrorCode = "SERVICE_NOT_FOUND"
	CodeInvalidSlug      ErrorCode = "INVALID_SLUG"
	CodeServiceError     ErrorCode = "SERVICE_ERROR"
	CodeSearchError      ErrorCode = "SEARCH_ERROR"
	CodeCategoriesError  ErrorCode = "CATEGORIES_ERROR"
	CodeInvalidServiceID ErrorCode = "INVALID_SERVICE_ID"
	CodeAvailabilityErr  ErrorCode = "AVAILABILITY_ERROR"
	CodeSyncError        ErrorCode = "SYNC_ERROR"
	CodeUpstreamError    ErrorCode = "UPSTREAM_ERROR"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	return "", false
}

// HTTPStatus maps an error code to the default HTTP status the routing
// layer should respond with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeServiceNotFound:
		return http.StatusNotFound
	case CodeInvalidSlug, CodeInvalidServiceID:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
