package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeOrderCreated  = "payment.order_created"
	TypeOrderSettled  = "payment.order_settled"
	TypeOrderFailed   = "payment.order_failed"
	TypeOrderExpired  = "payment.order_expired"
	TypeOrderReviewed = "payment.order_needs_review"
)

// Event describes a payment lifecycle event to store in the outbox.
type Event struct {
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Record is the persisted outbox row.
type Record struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	EventType string            `gorm:"size:64;not null"`
	Payload   datatypes.JSONMap `gorm:"type:json"`
	DedupeKey *string           `gorm:"size:192;uniqueIndex"`
	Published bool              `gorm:"not null;default:false;index"`
	CreatedAt time.Time
}

func (Record) TableName() string {
	return "payment_events"
}

// Outbox inserts payment events into the payment_events table. Rows are
// drained by the relay; with no relay configured they stay as an audit
// trail.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction, so the event
// commits or rolls back with the state change it describes.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	dedupe := strings.TrimSpace(event.DedupeKey)
	var dedupeValue any
	if dedupe != "" {
		dedupeValue = dedupe
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, false, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		name,
		payload,
		dedupeValue,
		now,
	).Error
}

// FetchUnpublished returns the oldest undelivered events.
func (o *Outbox) FetchUnpublished(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 32
	}
	var records []Record
	err := o.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkPublished flags delivered events.
func (o *Outbox) MarkPublished(ctx context.Context, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return o.db.WithContext(ctx).Model(&Record{}).
		Where("id IN ?", ids).
		Update("published", true).Error
}
