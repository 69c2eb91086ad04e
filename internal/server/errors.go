package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

var (
	ErrValidation       = errors.New("validation_failed")
	ErrRateLimited      = errors.New("rate_limited")
	ErrServiceUnhealthy = errors.New("service_unavailable")
)

type validationError struct {
	field  string
	reason string
}

func (e *validationError) Error() string {
	return "validation_failed: " + e.field + " " + e.reason
}

func (e *validationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, reason string) error {
	return &validationError{field: field, reason: reason}
}

// AbortWithError maps domain errors to HTTP responses. Unmapped errors
// become opaque 500s so internals never leak to clients.
func AbortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal_error"

	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
		message = "rate_limited"
	case errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrProviderDisabled):
		status = http.StatusNotFound
		message = "not_found"
	case errors.Is(err, paymentdomain.ErrInvalidPackage):
		status = http.StatusBadRequest
		message = "invalid_package"
	case errors.Is(err, paymentdomain.ErrInvalidUser):
		status = http.StatusBadRequest
		message = "invalid_user"
	case errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, catalogdomain.ErrPackageNotFound):
		status = http.StatusNotFound
		message = "not_found"
	case errors.Is(err, ErrServiceUnhealthy):
		status = http.StatusServiceUnavailable
		message = "service_unavailable"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
