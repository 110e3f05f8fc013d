package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// CreditBalance is the derived running balance for a tenant. It is written
// only by the ledger, in the same transaction that appends a CreditTransaction.
type CreditBalance struct {
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	Sequence  int64     `gorm:"column:sequence;not null;default:0"`
	Version   int64     `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CreditTransaction is an append-only ledger entry. BalanceAfter is the
// balance at the instant the entry was applied.
type CreditTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID                   `gorm:"column:tenant_id;type:uuid;not null"`
	Sequence     int64                       `gorm:"column:sequence;not null"`
	Type         enums.CreditTransactionType `gorm:"column:type;not null"`
	Amount       int64                       `gorm:"column:amount;not null"`
	BalanceAfter int64                       `gorm:"column:balance_after;not null"`
	Description  string                      `gorm:"column:description"`
	Actor        string                      `gorm:"column:actor"`
	PaymentID    *uuid.UUID                  `gorm:"column:payment_id;type:uuid"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
