package domain

import "time"

const (
	ProviderAlipay = "alipay"
	ProviderWechat = "wechat"
)

// EventStatus is the normalized outcome a provider reported.
type EventStatus string

const (
	StatusSucceeded EventStatus = "succeeded"
	StatusPending   EventStatus = "pending"
	StatusFailed    EventStatus = "failed"
)

// NotificationEvent is a provider callback normalized into provider-
// agnostic terms. Amounts are minor units; Params keeps the decoded
// fields for signature checks and audit payloads.
type NotificationEvent struct {
	Provider      string
	OrderNo       string
	TransactionID string
	AmountCents   int64
	Currency      string
	Status        EventStatus
	PaidAt        time.Time
	Params        map[string]string
	Raw           []byte
}

// PaymentRequest is what a client needs to take the user to payment.
type PaymentRequest struct {
	OrderNo string `json:"order_no"`
	// PayURL is a redirect target (Alipay page pay).
	PayURL string `json:"pay_url,omitempty"`
	// CodeURL is rendered as a QR code (WeChat native).
	CodeURL string `json:"code_url,omitempty"`
	// ExpiresAt bounds how long the request may be presented.
	ExpiresAt time.Time `json:"expires_at"`
}

// Credentials bundles one provider's merchant configuration. Key
// material never leaves this struct except into signing code.
type Credentials struct {
	AppID      string
	MerchantID string
	APIKey     string
	PublicKey  string
	PrivateKey string
	Gateway    string
	NotifyURL  string
	ReturnURL  string
	SignType   string
	Enabled    bool
}

// Ack is the exact response body a provider expects after a callback.
// Providers retry until they see their own success format, so the body
// is provider-specific even though the HTTP status is always 200.
type Ack struct {
	ContentType string
	Body        string
}
