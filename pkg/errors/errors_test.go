package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", ErrDuplicateDocument, http.StatusConflict},
		{"wrapped duplicate", fmt.Errorf("adding doc 7: %w", ErrDuplicateDocument), http.StatusConflict},
		{"unavailable", fmt.Errorf("search: %w", ErrIndexUnavailable), http.StatusServiceUnavailable},
		{"malformed", ErrMalformedQuery, http.StatusBadRequest},
		{"invalid", ErrInvalidInput, http.StatusBadRequest},
		{"not found", ErrDocumentNotFound, http.StatusNotFound},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("search: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"app error", New(ErrInvalidInput, http.StatusUnprocessableEntity, "bad"), http.StatusUnprocessableEntity},
		{"unknown", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestPublicMessageHidesDetails(t *testing.T) {
	err := fmt.Errorf("reading segment /var/lib/websearch/seg_1.wsix: %w", ErrInternal)
	msg := PublicMessage(err)
	assert.Equal(t, "internal error", msg)
	assert.NotContains(t, msg, "/var/lib")

	assert.Equal(t, "index unavailable", PublicMessage(fmt.Errorf("x: %w", ErrIndexUnavailable)))
	assert.Equal(t, "service unavailable", PublicMessage(ErrTimeout))

	assert.Equal(t, "no corpus source loaded", PublicMessage(New(ErrInvalidInput, http.StatusConflict, "no corpus source loaded")))
	assert.Equal(t, "internal error", PublicMessage(New(ErrInternal, http.StatusInternalServerError, "disk full at /var")))
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrDuplicateDocument, http.StatusConflict, "doc %d", 3)
	assert.ErrorIs(t, err, ErrDuplicateDocument)
	assert.Equal(t, "document already indexed: doc 3", err.Error())
}
