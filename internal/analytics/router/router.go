package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/tenant-billing/internal/analytics/types"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by the mappers.
type Writer interface {
	InsertBillingEvent(ctx context.Context, row types.BillingEventRow) error
}

// mapper turns a decoded payload into a row. base already carries the
// envelope columns and the raw payload.
type mapper func(base types.BillingEventRow, payload any) (types.BillingEventRow, error)

type handlerEntry struct {
	factory func() any
	mapRow  mapper
}

// Router dispatches billing envelopes to the mapper registered for their type.
type Router struct {
	writer   Writer
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventPaymentCompleted: {
			factory: func() any { return &payloads.PaymentCompletedEvent{} },
			mapRow:  paymentCompletedRow,
		},
		enums.EventPaymentFailed: {
			factory: func() any { return &payloads.PaymentFailedEvent{} },
			mapRow:  paymentFailedRow,
		},
		enums.EventSubscriptionActivated: {
			factory: func() any { return &payloads.SubscriptionChangedEvent{} },
			mapRow:  subscriptionChangedRow,
		},
		enums.EventSubscriptionRenewed: {
			factory: func() any { return &payloads.SubscriptionChangedEvent{} },
			mapRow:  subscriptionChangedRow,
		},
		enums.EventSubscriptionExpired: {
			factory: func() any { return &payloads.SubscriptionChangedEvent{} },
			mapRow:  subscriptionChangedRow,
		},
		enums.EventInvoiceIssued: {
			factory: func() any { return &payloads.InvoiceIssuedEvent{} },
			mapRow:  invoiceIssuedRow,
		},
	}

	return &Router{writer: writer, handlers: entries, logg: logg}, nil
}

// Handle decodes the envelope payload and inserts one billing_events row.
// Notification-only events (expiry warnings, low balance) are unsupported.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if !envelope.HasPayload() {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	base, err := baseRow(envelope)
	if err != nil {
		return err
	}
	row, err := entry.mapRow(base, payload)
	if err != nil {
		return fmt.Errorf("map %s row: %w", envelope.EventType, err)
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"tenant_id":  row.TenantID,
	})
	if err := r.writer.InsertBillingEvent(logCtx, row); err != nil {
		r.logg.Error(logCtx, "failed to insert billing event row", err)
		return err
	}
	return nil
}
