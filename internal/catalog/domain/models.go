package domain

import "time"

// PointsPackage is a purchasable bundle of points. Prices are stored in
// minor units (cents / fen) to keep money math integral.
type PointsPackage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"size:64;uniqueIndex" json:"code"`
	Name        string    `gorm:"size:128" json:"name"`
	Description string    `gorm:"size:256" json:"description,omitempty"`
	Points      int64     `gorm:"not null" json:"points"`
	BonusPoints int64     `gorm:"not null;default:0" json:"bonus_points"`
	PriceCents  int64     `gorm:"not null" json:"price_cents"`
	Currency    string    `gorm:"size:8;not null;default:CNY" json:"currency"`
	Enabled     bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (PointsPackage) TableName() string {
	return "points_packages"
}

// TotalPoints returns the points credited on settlement, bonus included.
func (p PointsPackage) TotalPoints() int64 {
	return p.Points + p.BonusPoints
}
