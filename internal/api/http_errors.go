package api

import (
	"errors"
	"net/http"

	"github.com/evalsvc/docreview/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatConflict:
		return http.StatusConflict, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatQueue:
		return http.StatusTooManyRequests, true
	case core.ErrCatInvalid:
		return http.StatusBadRequest, true
	case core.ErrCatCancelled:
		return http.StatusConflict, true
	default:
		return http.StatusInternalServerError, true
	}
}
