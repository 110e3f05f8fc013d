package router

import (
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/internal/analytics/types"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

func baseRow(envelope types.Envelope) (types.BillingEventRow, error) {
	row := types.BillingEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt.UTC(),
	}
	if envelope.HasPayload() {
		row.Payload = cbigquery.NullJSON{Valid: true, JSONVal: string(envelope.Payload)}
	}
	return row, nil
}

func paymentCompletedRow(row types.BillingEventRow, payload any) (types.BillingEventRow, error) {
	event, ok := payload.(*payloads.PaymentCompletedEvent)
	if !ok {
		return row, fmt.Errorf("invalid payload for payment.completed")
	}
	cents, err := amountCents(event.Amount)
	if err != nil {
		return row, err
	}
	row.TenantID = event.TenantID.String()
	row.PaymentID = strPtr(event.PaymentID.String())
	row.PaymentKind = strPtr(string(event.Kind))
	row.Gateway = nonEmpty(event.Gateway)
	row.Status = strPtr("completed")
	row.AmountCents = cents
	row.Currency = nonEmpty(event.Currency)
	if event.CreditsAdded > 0 {
		row.Credits = int64Ptr(event.CreditsAdded)
	}
	if event.SubscriptionID != nil {
		row.SubscriptionID = strPtr(event.SubscriptionID.String())
	}
	return row, nil
}

func paymentFailedRow(row types.BillingEventRow, payload any) (types.BillingEventRow, error) {
	event, ok := payload.(*payloads.PaymentFailedEvent)
	if !ok {
		return row, fmt.Errorf("invalid payload for payment.failed")
	}
	row.TenantID = event.TenantID.String()
	row.PaymentID = strPtr(event.PaymentID.String())
	row.Gateway = nonEmpty(event.Gateway)
	row.Status = strPtr("failed")
	return row, nil
}

func subscriptionChangedRow(row types.BillingEventRow, payload any) (types.BillingEventRow, error) {
	event, ok := payload.(*payloads.SubscriptionChangedEvent)
	if !ok {
		return row, fmt.Errorf("invalid payload for %s", row.EventType)
	}
	row.TenantID = event.TenantID.String()
	row.SubscriptionID = strPtr(event.SubscriptionID.String())
	row.PlanID = strPtr(event.PlanID.String())
	row.Status = strPtr(string(event.Status))
	return row, nil
}

func invoiceIssuedRow(row types.BillingEventRow, payload any) (types.BillingEventRow, error) {
	event, ok := payload.(*payloads.InvoiceIssuedEvent)
	if !ok {
		return row, fmt.Errorf("invalid payload for invoice.issued")
	}
	cents, err := amountCents(event.Amount)
	if err != nil {
		return row, err
	}
	row.TenantID = event.TenantID.String()
	row.PaymentID = strPtr(event.PaymentID.String())
	row.InvoiceNumber = strPtr(event.InvoiceNumber)
	row.Status = strPtr(string(event.Type))
	row.AmountCents = cents
	row.Currency = nonEmpty(event.Currency)
	return row, nil
}

// amountCents converts a decimal major-unit string ("12.50") to minor units.
func amountCents(amount string) (*int64, error) {
	if amount == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	cents := d.Shift(2).Round(0).IntPart()
	return &cents, nil
}

func strPtr(v string) *string {
	return &v
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}
