package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// CreateOrderInput is the validated request to start a purchase.
type CreateOrderInput struct {
	Username    string
	PackageCode string
	Provider    string
}

type Service interface {
	// CreateOrder reserves an order and returns the payment handle.
	CreateOrder(ctx context.Context, input CreateOrderInput) (*PaymentRequest, error)

	// IngestNotification runs the full callback pipeline and returns the
	// ack body to hand back to the provider. The error classifies what
	// happened; the ack is valid whenever err maps to a provider-visible
	// outcome.
	IngestNotification(ctx context.Context, provider string, payload []byte) (Ack, error)

	// SettleCredited finishes a paid order: credit points, mark settled,
	// register the replay marker, emit the settlement event.
	SettleCredited(ctx context.Context, orderID snowflake.ID) error
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderDisabled = errors.New("provider_disabled")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrAmountMismatch   = errors.New("amount_mismatch")
	ErrInconsistentTxn  = errors.New("inconsistent_transaction")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrOrderNotPayable  = errors.New("order_not_payable")
	ErrTransientFailure = errors.New("transient_failure")
	ErrMissingConfig    = errors.New("missing_config")
	ErrInvalidPackage   = errors.New("invalid_package")
	ErrInvalidUser      = errors.New("invalid_user")
)
