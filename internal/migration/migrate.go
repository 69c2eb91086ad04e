package migration

import (
	"gorm.io/gorm"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events"
	ledgerdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/domain"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
)

// Run applies the schema. AutoMigrate is additive only, which is all a
// single-binary deployment needs.
func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&catalogdomain.PointsPackage{},
		&orderdomain.Order{},
		&orderdomain.IdempotencyMarker{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.UserPoints{},
		&events.Record{},
	)
}
