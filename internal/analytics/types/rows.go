package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// BillingEventRow mirrors the billing_events BigQuery schema. One row per
// billing event; columns not relevant to an event type stay NULL.
type BillingEventRow struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	TenantID       string             `bigquery:"tenant_id"`
	PaymentID      *string            `bigquery:"payment_id"`
	SubscriptionID *string            `bigquery:"subscription_id"`
	PlanID         *string            `bigquery:"plan_id"`
	InvoiceNumber  *string            `bigquery:"invoice_number"`
	PaymentKind    *string            `bigquery:"payment_kind"`
	Gateway        *string            `bigquery:"gateway"`
	Status         *string            `bigquery:"status"`
	AmountCents    *int64             `bigquery:"amount_cents"`
	Currency       *string            `bigquery:"currency"`
	Credits        *int64             `bigquery:"credits"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}

// InsertID keys streaming inserts on the event id so a redelivered event
// does not produce a second row.
func (r BillingEventRow) InsertID() string {
	return r.EventID
}
