package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrPackageNotFound = errors.New("package_not_found")

type Repository interface {
	ListEnabled(ctx context.Context, db *gorm.DB) ([]PointsPackage, error)
	GetByCode(ctx context.Context, db *gorm.DB, code string) (*PointsPackage, error)
	Upsert(ctx context.Context, db *gorm.DB, pkg *PointsPackage) error
}
