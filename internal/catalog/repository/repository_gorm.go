package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
)

type gormRepository struct{}

// Provide builds the gorm-backed package repository.
func Provide() domain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) ListEnabled(ctx context.Context, db *gorm.DB) ([]domain.PointsPackage, error) {
	var packages []domain.PointsPackage
	err := db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("price_cents ASC").
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *gormRepository) GetByCode(ctx context.Context, db *gorm.DB, code string) (*domain.PointsPackage, error) {
	var pkg domain.PointsPackage
	err := db.WithContext(ctx).Where("code = ?", code).First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Upsert keeps a seeded package current without clobbering an operator's
// enabled flag.
func (r *gormRepository) Upsert(ctx context.Context, db *gorm.DB, pkg *domain.PointsPackage) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO points_packages (code, name, description, points, bonus_points, price_cents, currency, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   points = excluded.points,
		   bonus_points = excluded.bonus_points,
		   price_cents = excluded.price_cents,
		   currency = excluded.currency,
		   updated_at = excluded.updated_at`,
		pkg.Code,
		pkg.Name,
		pkg.Description,
		pkg.Points,
		pkg.BonusPoints,
		pkg.PriceCents,
		pkg.Currency,
		pkg.Enabled,
		now,
		now,
	).Error
}
