package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Plan is a purchasable subscription plan. Price edits are forward-looking:
// subscriptions keep the price snapshot taken when they were created.
type Plan struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code           string              `gorm:"column:code;not null;uniqueIndex"`
	Name           string              `gorm:"column:name;not null"`
	PriceAmount    decimal.Decimal     `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode   string              `gorm:"column:currency_code;not null"`
	BillingCycle   enums.BillingCycle  `gorm:"column:billing_cycle;not null"`
	MaxSeats       int                 `gorm:"column:max_seats;not null;default:0"`
	MaxLocations   int                 `gorm:"column:max_locations;not null;default:0"`
	MaxPeriodUsage int64               `gorm:"column:max_period_usage;not null;default:0"`
	Features       json.RawMessage     `gorm:"column:features;type:jsonb"`
	Status         enums.CatalogStatus `gorm:"column:status;not null;default:'active'"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// FeatureSet decodes the feature map. Unknown or malformed data yields no features.
func (p Plan) FeatureSet() map[string]bool {
	out := map[string]bool{}
	if len(p.Features) == 0 {
		return out
	}
	if err := json.Unmarshal(p.Features, &out); err != nil {
		return map[string]bool{}
	}
	return out
}

// HasFeature reports whether the plan enables the named feature.
func (p Plan) HasFeature(name string) bool {
	return p.FeatureSet()[name]
}
