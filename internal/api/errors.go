package api

import (
	"context"
	"errors"
	"net/http"

	"storefront-agent/internal/apperr"

	"github.com/gin-gonic/gin"
)

// httpStatus maps service errors to response codes
func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	case apperr.KindServerRejection:
		return http.StatusConflict
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes err with its kind; extra fields are merged into the body
func respondError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{
		"error": apperr.Message(err),
	}
	if kind := apperr.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(httpStatus(err), body)
}
