// Package errors defines the error taxonomy shared by the indexer, the query
// engine and the HTTP layer, and maps each kind to an HTTP status code.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDuplicateDocument is returned when a document ID is already indexed.
	ErrDuplicateDocument = errors.New("document already indexed")
	// ErrIndexUnavailable is returned while the index has not finished its
	// initial load, or after it has been torn down.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrMalformedQuery is reserved for structured query syntax. Free-text
	// queries never produce it.
	ErrMalformedQuery   = errors.New("malformed query")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode translates err into the status the HTTP layer should send.
// An AppError carries its own status; sentinels are matched with errors.Is so
// wrapped errors map the same way.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexUnavailable), errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessager is implemented by errors that carry client-safe text of
// their own, such as resilience.TimeoutError.
type publicMessager interface {
	PublicMessage() string
}

// PublicMessage returns the fixed client-facing text for err. Client errors
// built with New carry their own message; internal error details never leave
// the process.
func PublicMessage(err error) string {
	var pm publicMessager
	if errors.As(err, &pm) {
		return pm.PublicMessage()
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode < http.StatusInternalServerError && appErr.Message != "" {
		return appErr.Message
	}
	switch HTTPStatusCode(err) {
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "document already indexed"
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusServiceUnavailable:
		if errors.Is(err, ErrIndexUnavailable) {
			return "index unavailable"
		}
		return "service unavailable"
	default:
		return "internal error"
	}
}
