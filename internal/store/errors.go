package store

import (
	"errors"
	"net/http"

	"github.com/basekick-labs/docbench/pkg/models"
)

// Storage errors surfaced to the benchmark driver.
var (
	// ErrDuplicate indicates an insert violated the unique index on data.id.
	// It is never retried.
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound indicates a point lookup matched no record.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidArgument indicates a lookup supplied no key.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownBackend indicates an unsupported storage.backend value.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// StatusCode maps an error to the HTTP-like status it represents.
// Anything that is not one of the classified errors is a backend failure.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, models.ErrMissingKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
