package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// PaymentCompletedEvent is emitted in the settlement transaction.
type PaymentCompletedEvent struct {
	PaymentID      uuid.UUID         `json:"payment_id"`
	TenantID       uuid.UUID         `json:"tenant_id"`
	Kind           enums.PaymentKind `json:"kind"`
	Gateway        string            `json:"gateway"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	CreditsAdded   int64             `json:"credits_added,omitempty"`
	SubscriptionID *uuid.UUID        `json:"subscription_id,omitempty"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// PaymentFailedEvent carries the human-readable failure note.
type PaymentFailedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Gateway   string    `json:"gateway"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// SubscriptionChangedEvent covers activation, renewal and expiry.
type SubscriptionChangedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	TenantID       uuid.UUID                `json:"tenant_id"`
	PlanID         uuid.UUID                `json:"plan_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	ExpiresAt      *time.Time               `json:"expires_at,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}

// SubscriptionExpiringEvent asks the notification layer to warn the tenant.
type SubscriptionExpiringEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	PlanID         uuid.UUID `json:"plan_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// LowBalanceEvent is emitted at most once per tenant per day.
type LowBalanceEvent struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Balance   int64     `json:"balance"`
	Threshold int64     `json:"threshold"`
}

// InvoiceIssuedEvent references the sale invoice attached to a payment.
type InvoiceIssuedEvent struct {
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	PaymentID     uuid.UUID         `json:"payment_id"`
	TenantID      uuid.UUID         `json:"tenant_id"`
	Type          enums.InvoiceType `json:"type"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	IssuedAt      time.Time         `json:"issued_at"`
}
