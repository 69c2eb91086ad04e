package domain

import (
	"context"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
)

// Adapter translates between one provider's wire formats and the
// normalized domain types. Adapters are stateless; credentials arrive
// per call so tests can swap them freely.
type Adapter interface {
	Provider() string

	// BuildRequest produces the client-facing payment handle for a
	// freshly created order.
	BuildRequest(ctx context.Context, order *orderdomain.Order, pkg *catalogdomain.PointsPackage, creds Credentials) (*PaymentRequest, error)

	// ParseNotification decodes a raw callback body into a normalized
	// event. Parsing performs no signature checks and no store access.
	ParseNotification(ctx context.Context, payload []byte) (*NotificationEvent, error)

	// FormatAck renders the provider's expected callback response.
	FormatAck(ok bool) Ack
}

// Verifier checks a notification's authenticity. Implementations must
// be pure: no store access, no panics on malformed input.
type Verifier interface {
	Verify(event *NotificationEvent, creds Credentials) bool
}
