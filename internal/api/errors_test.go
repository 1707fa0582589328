package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"storefront-agent/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not logged in", apperr.ErrNotLoggedIn, http.StatusUnauthorized},
		{"wrapped illegal transition", fmt.Errorf("%w: place order", apperr.ErrIllegalTransition), http.StatusConflict},
		{"queue closed", apperr.ErrQueueClosed, http.StatusServiceUnavailable},
		{"validation", apperr.Validation("op", "bad"), http.StatusUnprocessableEntity},
		{"business rule", apperr.BusinessRule("op", "dup"), http.StatusUnprocessableEntity},
		{"network", apperr.Network("op", errors.New("refused")), http.StatusServiceUnavailable},
		{"rejected", apperr.Rejected("op", "no"), http.StatusConflict},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(tt.err))
		})
	}
}
