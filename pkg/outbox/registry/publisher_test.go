package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/config"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	paymentID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.PaymentCompletedEvent{
		PaymentID:    paymentID,
		TenantID:     uuid.New(),
		Kind:         enums.PaymentKindCreditPackage,
		CreditsAdded: 120,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "billing-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.PaymentCompletedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.PaymentID != paymentID || payload.CreditsAdded != 120 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryCoversEveryEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, et := range []enums.OutboxEventType{
		enums.EventPaymentCompleted,
		enums.EventPaymentFailed,
		enums.EventSubscriptionActivated,
		enums.EventSubscriptionRenewed,
		enums.EventSubscriptionExpired,
		enums.EventSubscriptionExpiring,
		enums.EventCreditsLowBalance,
		enums.EventInvoiceIssued,
	} {
		if _, ok := reg.entries[et]; !ok {
			t.Fatalf("event %s not registered", et)
		}
	}
	if topics := reg.Topics(); len(topics) != 1 || topics[0] != "billing-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     "payment.teleported",
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventPaymentCompleted,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventCreditsLowBalance,
			AggregateType: enums.AggregateCreditBalance,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected error without billing topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{BillingTopic: "billing-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
