package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// CreditPackage is a prepaid bundle of messaging credits.
type CreditPackage struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code         string              `gorm:"column:code;not null;uniqueIndex"`
	Name         string              `gorm:"column:name;not null"`
	BaseCredits  int64               `gorm:"column:base_credits;not null"`
	BonusCredits int64               `gorm:"column:bonus_credits;not null;default:0"`
	PriceAmount  decimal.Decimal     `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode string              `gorm:"column:currency_code;not null"`
	Status       enums.CatalogStatus `gorm:"column:status;not null;default:'active'"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalCredits is what a completed purchase of the package adds to a balance.
func (p CreditPackage) TotalCredits() int64 {
	return p.BaseCredits + p.BonusCredits
}
