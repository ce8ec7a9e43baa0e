package types

import (
	"errors"
	"net/http"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
	ErrNotFound    = errors.New("not found")
)

// StatusCode maps an error of the service taxonomy to the HTTP status
// code that is returned to consumers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns an opaque message for err that is safe to return to a
// consumer. Storage details never leave the service.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrConflict):
		return "resource already exists"
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	default:
		return "storage unavailable, please retry"
	}
}
