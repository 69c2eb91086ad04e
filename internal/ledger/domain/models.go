package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const SourceTypeOrderSettlement = "order_settlement"

// LedgerEntry is one append-only crediting of points. The unique
// (source_type, source_id) pair makes crediting idempotent at the
// storage layer regardless of how many times a caller retries.
type LedgerEntry struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	SourceType string       `gorm:"size:64;not null;uniqueIndex:ux_ledger_source"`
	SourceID   snowflake.ID `gorm:"not null;uniqueIndex:ux_ledger_source"`
	Username   string       `gorm:"size:128;not null;index"`
	Points     int64        `gorm:"not null"`
	CreatedAt  time.Time
}

func (LedgerEntry) TableName() string {
	return "points_ledger_entries"
}

// UserPoints is the materialized balance per user, maintained in the
// same transaction as the entry insert.
type UserPoints struct {
	Username  string `gorm:"primaryKey;size:128"`
	Balance   int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (UserPoints) TableName() string {
	return "user_points"
}
