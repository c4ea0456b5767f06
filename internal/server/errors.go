package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/veriplex/veriplex/internal/apikey/domain"
	catalogservice "github.com/veriplex/veriplex/internal/catalog/service"
	"github.com/veriplex/veriplex/internal/engine"
	ledgerdomain "github.com/veriplex/veriplex/internal/ledger/domain"
	"github.com/veriplex/veriplex/internal/resolver"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware translates typed errors attached to the gin context
// into JSON error responses. Handlers report failures with AbortWithError and
// never build error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, engine.ErrMissingParameter),
		errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, engine.ErrServiceNotAllowed),
		errors.Is(err, ledgerdomain.ErrServiceMismatch):
		return http.StatusForbidden, errorPayload{
			Type:    "service_not_allowed",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrSubscriptionInactive),
		errors.Is(err, ledgerdomain.ErrSubscriptionExpired),
		errors.Is(err, ledgerdomain.ErrSubscriptionNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return http.StatusForbidden, errorPayload{
			Type:    "subscription_rejected",
			Message: err.Error(),
		}
	case errors.Is(err, resolver.ErrNotFound),
		errors.Is(err, catalogservice.ErrServiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
