package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
)

type gormRepository struct{}

// Provide builds the gorm-backed order repository.
func Provide() domain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *gormRepository) GetByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) ListByUsername(ctx context.Context, db *gorm.DB, username string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// TryTransition is the single write path for state changes. The WHERE
// clause on the expected state makes concurrent deliveries race safely:
// exactly one UPDATE matches, the rest see zero rows.
func (r *gormRepository) TryTransition(ctx context.Context, db *gorm.DB, id snowflake.ID, expected, next domain.OrderState, providerTxnID string, now time.Time) (bool, error) {
	updates := map[string]any{
		"state":      next,
		"updated_at": now,
	}
	if providerTxnID != "" {
		updates["provider_transaction_id"] = providerTxnID
	}
	switch next {
	case domain.StatePaid:
		updates["paid_at"] = now
	case domain.StateSettled:
		updates["settled_at"] = now
	}

	res := db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND state = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) RegisterMarker(ctx context.Context, db *gorm.DB, marker *domain.IdempotencyMarker) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_markers (id, provider, provider_transaction_id, order_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_transaction_id) DO NOTHING`,
		marker.ID,
		marker.Provider,
		marker.ProviderTransactionID,
		marker.OrderID,
		marker.Payload,
		time.Now().UTC(),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) HasMarker(ctx context.Context, db *gorm.DB, provider, providerTxnID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.IdempotencyMarker{}).
		Where("provider = ? AND provider_transaction_id = ?", provider, providerTxnID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) RecordCreditAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextRetry time.Time) error {
	return db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"credit_attempts":      attempts,
			"next_credit_retry_at": nextRetry,
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (r *gormRepository) FlagReview(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	return db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"needs_review":   true,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *gormRepository) StuckInPaid(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("state = ? AND needs_review = ? AND (next_credit_retry_at IS NULL OR next_credit_retry_at <= ?)",
			domain.StatePaid, false, now).
		Order("paid_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *gormRepository) Expirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("state IN ? AND expires_at <= ?",
			[]domain.OrderState{domain.StateCreated, domain.StateAwaiting}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *gormRepository) CountByState(ctx context.Context, db *gorm.DB) (map[domain.OrderState]int64, error) {
	var rows []struct {
		State domain.OrderState
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT state, COUNT(1) AS count FROM orders GROUP BY state`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.OrderState]int64, len(rows))
	for _, row := range rows {
		out[row.State] = row.Count
	}
	return out, nil
}
