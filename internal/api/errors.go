package api

import (
	"errors"
	"net/http"

	"policyaudit/internal/domain"
)

// httpStatusFromDomainError maps the domain error taxonomy onto HTTP status
// codes. Anything outside the taxonomy is a plain 500.
func httpStatusFromDomainError(err error) int {
	var (
		notFound    *domain.NotFoundError
		validation  *domain.ValidationError
		conflict    *domain.ConflictError
		unavailable *domain.UnavailableError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
