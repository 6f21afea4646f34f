package types

import (
	"errors"
	"net/http"

	appErr "github.com/pbn-studio/engine/pkg/errors"
)

// GenericMessage replaces the message of every unclassified failure.
const GenericMessage = "server error"

// StatusFor maps an error code to its HTTP status.
func StatusFor(err error) int {
	switch appErr.CodeOf(err) {
	case appErr.CodeInvalid, appErr.CodeAlreadyExists, appErr.CodeConflict:
		return http.StatusBadRequest
	case appErr.CodeUnauthorized:
		return http.StatusUnauthorized
	case appErr.CodeForbidden:
		return http.StatusForbidden
	case appErr.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromAppError builds the client-facing error. Internal causes never leave the server.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var e *appErr.AppError
	if !errors.As(err, &e) || StatusFor(err) == http.StatusInternalServerError {
		return &APIError{Code: string(appErr.CodeInternal), Message: GenericMessage}
	}
	out := &APIError{Code: string(e.Code), Message: e.Message}
	if fields, ok := e.Meta["fields"].(string); ok {
		out.Details = "invalid fields: " + fields
	}
	return out
}
