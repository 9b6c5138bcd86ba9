package workflows

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/docket/internal/engine"
	"github.com/JaimeStill/docket/internal/store"
	"github.com/JaimeStill/docket/pkg/storage"
)

// Domain errors for workflow operations.
var (
	ErrEmptyContent  = errors.New("document content is empty")
	ErrInvalidID     = errors.New("invalid workflow id")
	ErrInvalidStatus = errors.New("invalid status filter")
	ErrNoArchive     = errors.New("result archive not configured")
)

// MapHTTPStatus maps workflow, engine, and store errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrNoArchive):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrTerminal),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, engine.ErrEmptyDocument),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrExtraction):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
