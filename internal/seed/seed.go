package seed

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
)

var defaultPackages = []catalogdomain.PointsPackage{
	{Code: "basic", Name: "基础套餐", Description: "适合偶尔使用的用户", Points: 100, BonusPoints: 0, PriceCents: 1000, Currency: "CNY", Enabled: true},
	{Code: "standard", Name: "标准套餐", Description: "性价比最高的选择", Points: 500, BonusPoints: 50, PriceCents: 4500, Currency: "CNY", Enabled: true},
	{Code: "premium", Name: "高级套餐", Description: "适合重度用户", Points: 1000, BonusPoints: 150, PriceCents: 8000, Currency: "CNY", Enabled: true},
	{Code: "vip", Name: "VIP套餐", Description: "最超值的长期选择", Points: 3000, BonusPoints: 500, PriceCents: 20000, Currency: "CNY", Enabled: true},
}

// Packages upserts the default catalog so a fresh database is sellable
// without an admin step.
func Packages(ctx context.Context, db *gorm.DB, repo catalogdomain.Repository, log *zap.Logger) error {
	for i := range defaultPackages {
		pkg := defaultPackages[i]
		if err := repo.Upsert(ctx, db, &pkg); err != nil {
			return err
		}
	}
	log.Named("seed").Info("packages_seeded", zap.Int("count", len(defaultPackages)))
	return nil
}
