package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound  = errors.New("order_not_found")
	ErrInvalidPackage = errors.New("invalid_package")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	GetByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*Order, error)
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListByUsername(ctx context.Context, db *gorm.DB, username string, limit int) ([]Order, error)

	// TryTransition moves an order from expected to next iff it is still
	// in expected. It reports whether this caller won the transition.
	TryTransition(ctx context.Context, db *gorm.DB, id snowflake.ID, expected, next OrderState, providerTxnID string, now time.Time) (bool, error)

	// RegisterMarker inserts the settlement marker for a provider
	// transaction. It reports whether the marker was created now, false
	// when an earlier delivery already registered it.
	RegisterMarker(ctx context.Context, db *gorm.DB, marker *IdempotencyMarker) (bool, error)
	HasMarker(ctx context.Context, db *gorm.DB, provider, providerTxnID string) (bool, error)

	RecordCreditAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextRetry time.Time) error
	FlagReview(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error

	// StuckInPaid returns paid orders whose retry deadline has passed and
	// that are not flagged for manual review.
	StuckInPaid(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Order, error)
	// Expirable returns created/awaiting orders past their deadline.
	Expirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Order, error)

	CountByState(ctx context.Context, db *gorm.DB) (map[OrderState]int64, error)
}
