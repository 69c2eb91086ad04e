package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderState is the lifecycle state of a points order. Transitions are
// compare-and-set: a writer names the state it expects to leave, and
// loses the race silently if another writer got there first.
type OrderState string

const (
	StateCreated  OrderState = "created"
	StateAwaiting OrderState = "awaiting_notification"
	StatePaid     OrderState = "paid"
	StateSettled  OrderState = "settled"
	StateFailed   OrderState = "failed"
	StateExpired  OrderState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateExpired
}

// Order is a points purchase awaiting provider confirmation. Amounts
// are minor units; Points/BonusPoints are frozen from the package at
// creation so later catalog edits cannot change what a paid order owes.
type Order struct {
	ID                    snowflake.ID `gorm:"primaryKey" json:"id,string"`
	OrderNo               string       `gorm:"size:64;uniqueIndex" json:"order_no"`
	Username              string       `gorm:"size:128;index" json:"username"`
	PackageID             int64        `gorm:"not null" json:"package_id"`
	PackageCode           string       `gorm:"size:64" json:"package_code"`
	Points                int64        `gorm:"not null" json:"points"`
	BonusPoints           int64        `gorm:"not null;default:0" json:"bonus_points"`
	AmountCents           int64        `gorm:"not null" json:"amount_cents"`
	Currency              string       `gorm:"size:8;not null" json:"currency"`
	Provider              string       `gorm:"size:32;not null" json:"provider"`
	State                 OrderState   `gorm:"size:32;not null;index" json:"state"`
	ProviderTransactionID string       `gorm:"size:128;index" json:"provider_transaction_id,omitempty"`
	FailureReason         string       `gorm:"size:256" json:"failure_reason,omitempty"`
	CreditAttempts        int          `gorm:"not null;default:0" json:"-"`
	NextCreditRetryAt     *time.Time   `json:"-"`
	NeedsReview           bool         `gorm:"not null;default:false" json:"needs_review"`
	ExpiresAt             time.Time    `gorm:"index" json:"expires_at"`
	PaidAt                *time.Time   `json:"paid_at,omitempty"`
	SettledAt             *time.Time   `json:"settled_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// TotalPoints is the amount credited on settlement.
func (o Order) TotalPoints() int64 {
	return o.Points + o.BonusPoints
}

// IdempotencyMarker records that a provider transaction has been fully
// settled. The unique (provider, provider_transaction_id) pair is the
// durable replay guard; the redis window in front of it is advisory.
type IdempotencyMarker struct {
	ID                    snowflake.ID   `gorm:"primaryKey"`
	Provider              string         `gorm:"size:32;not null;uniqueIndex:ux_marker_provider_txn"`
	ProviderTransactionID string         `gorm:"size:128;not null;uniqueIndex:ux_marker_provider_txn"`
	OrderID               snowflake.ID   `gorm:"not null;index"`
	Payload               datatypes.JSON `gorm:"type:json"`
	CreatedAt             time.Time
}

func (IdempotencyMarker) TableName() string {
	return "idempotency_markers"
}
