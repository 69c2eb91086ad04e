package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

// maxNotifyBody bounds callback bodies; real provider payloads are a
// few KB.
const maxNotifyBody = 64 << 10

// notify receives provider callbacks. The response body is whatever
// the provider's retry loop expects, always on HTTP 200; only unknown
// or disabled providers get a plain 404. Every other failure mode is a
// generic failure ack so the response never reveals which check broke.
func (h *Handlers) notify(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBody))
	if err != nil {
		AbortWithError(c, ErrValidation)
		return
	}

	ack, err := h.paymentSvc.IngestNotification(c.Request.Context(), provider, payload)
	if errors.Is(err, paymentdomain.ErrInvalidProvider) || errors.Is(err, paymentdomain.ErrProviderDisabled) {
		AbortWithError(c, err)
		return
	}
	if err != nil && !providerVisible(err) {
		// Storage or infrastructure trouble: log it, hand the provider a
		// failure ack so it redelivers once things recover.
		h.log.Error("notification_processing_failed",
			zap.String("provider", provider),
			zap.Error(err),
		)
	}

	c.Data(http.StatusOK, ack.ContentType, []byte(ack.Body))
}

// providerVisible reports whether the error is an expected pipeline
// outcome rather than an internal failure.
func providerVisible(err error) bool {
	for _, known := range []error{
		paymentdomain.ErrInvalidPayload,
		paymentdomain.ErrInvalidSignature,
		paymentdomain.ErrOrderNotFound,
		paymentdomain.ErrAmountMismatch,
		paymentdomain.ErrInconsistentTxn,
		paymentdomain.ErrEventIgnored,
		paymentdomain.ErrOrderNotPayable,
		paymentdomain.ErrTransientFailure,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
