package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Payment is the gateway-agnostic payment record. Provider-specific fields
// live in GatewayData so a new provider never needs a schema change.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID        uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	Kind            enums.PaymentKind   `gorm:"column:kind;not null"`
	Method          enums.PaymentMethod `gorm:"column:method;not null"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	CurrencyCode    string              `gorm:"column:currency_code;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	Gateway         enums.Gateway       `gorm:"column:gateway;not null"`
	GatewayTxnID    *string             `gorm:"column:gateway_txn_id;uniqueIndex"`
	GatewayToken    *string             `gorm:"column:gateway_token;uniqueIndex"`
	GatewayData     json.RawMessage     `gorm:"column:gateway_data;type:jsonb"`
	PlanID          *uuid.UUID          `gorm:"column:plan_id;type:uuid"`
	CreditPackageID *uuid.UUID          `gorm:"column:credit_package_id;type:uuid"`
	SubscriptionID  *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	BuyerName       string              `gorm:"column:buyer_name"`
	BuyerEmail      string              `gorm:"column:buyer_email"`
	ProofReference  *string             `gorm:"column:proof_reference"`
	ProofObject     *string             `gorm:"column:proof_object"`
	ApprovedBy      *uuid.UUID          `gorm:"column:approved_by;type:uuid"`
	ApprovedAt      *time.Time          `gorm:"column:approved_at"`
	CompletedAt     *time.Time          `gorm:"column:completed_at"`
	FailureReason   *string             `gorm:"column:failure_reason"`
	Notes           string              `gorm:"column:notes"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
