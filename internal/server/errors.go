package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/cv-session-engine/internal/schemas"
	"github.com/jonathan/cv-session-engine/internal/store"
	"github.com/jonathan/cv-session-engine/internal/types"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		notFound      *types.NotFoundError
		validation    *types.ValidationError
		transition    *types.InvalidTransitionError
		dependency    *types.DependencyError
		conflict      *types.ConflictError
		versionClash  *store.VersionConflictError
		docValidation *schemas.ValidationError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &transition), errors.As(err, &docValidation):
		return http.StatusBadRequest
	case errors.As(err, &dependency):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict), errors.As(err, &versionClash):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
