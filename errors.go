package main

import (
	"errors"
	"net/http"
)

var (
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("incorrect email or password")
	ErrUnauthorized        = errors.New("could not validate credentials")
	ErrStorageUnavailable  = errors.New("object storage unavailable")
	ErrRepository          = errors.New("repository error")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrServiceNotAvailable = errors.New("service not available")
)

// errorStatus maps an error from any layer to the HTTP status reported to the client.
func errorStatus(err error) int {
	var statusError *StatusError
	switch {
	case errors.As(err, &statusError):
		return statusError.Status
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrServiceNotAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
