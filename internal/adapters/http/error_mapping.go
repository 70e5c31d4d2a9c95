package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrWorkflowNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict), domain.IsKind(err, domain.ErrCycleInProgress):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrSchemaMismatch):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
