package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Subscription is a tenant's plan subscription. At most one row per tenant is
// active, enforced by a partial unique index.
type Subscription struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID          uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;index"`
	PlanID            uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status            enums.SubscriptionStatus `gorm:"column:status;not null;default:'pending'"`
	DurationMonths    int                      `gorm:"column:duration_months;not null;default:1"`
	StartedAt         *time.Time               `gorm:"column:started_at"`
	ExpiresAt         *time.Time               `gorm:"column:expires_at"`
	OriginalPrice     decimal.Decimal          `gorm:"column:original_price;type:numeric(12,2);not null"`
	DiscountedPrice   decimal.Decimal          `gorm:"column:discounted_price;type:numeric(12,2);not null"`
	CurrencyCode      string                   `gorm:"column:currency_code;not null"`
	Notes             string                   `gorm:"column:notes"`
	ExpiryWarningSent *time.Time               `gorm:"column:expiry_warning_sent_at"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// SubscriptionHistory is an append-only audit row written on every plan or
// status change.
type SubscriptionHistory struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID uuid.UUID                `gorm:"column:subscription_id;type:uuid;not null;index"`
	TenantID       uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null"`
	OldPlanID      *uuid.UUID               `gorm:"column:old_plan_id;type:uuid"`
	NewPlanID      uuid.UUID                `gorm:"column:new_plan_id;type:uuid;not null"`
	OldStatus      enums.SubscriptionStatus `gorm:"column:old_status"`
	NewStatus      enums.SubscriptionStatus `gorm:"column:new_status;not null"`
	Reason         string                   `gorm:"column:reason;not null"`
	Actor          string                   `gorm:"column:actor"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (SubscriptionHistory) TableName() string {
	return "subscription_history"
}
