package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Invoice is attached to a completed payment after settlement.
type Invoice struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID     uuid.UUID         `gorm:"column:payment_id;type:uuid;not null"`
	TenantID      uuid.UUID         `gorm:"column:tenant_id;type:uuid;not null;index"`
	Type          enums.InvoiceType `gorm:"column:type;not null"`
	InvoiceNumber string            `gorm:"column:invoice_number;not null;uniqueIndex"`
	IssuedAt      time.Time         `gorm:"column:issued_at;not null"`
	DocumentRef   *string           `gorm:"column:document_ref"`
	Amount        decimal.Decimal   `gorm:"column:amount;type:numeric(12,2);not null"`
	CurrencyCode  string            `gorm:"column:currency_code;not null"`
	CompanyName   string            `gorm:"column:company_name"`
	TaxID         string            `gorm:"column:tax_id"`
	Metadata      json.RawMessage   `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// InvoiceSequence holds the last issued invoice number for a month.
type InvoiceSequence struct {
	YearMonth string    `gorm:"column:year_month;primaryKey"`
	LastValue int64     `gorm:"column:last_value;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
