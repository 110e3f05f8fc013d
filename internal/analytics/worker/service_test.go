package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenant-billing/internal/analytics/router"
	"github.com/angelmondragon/tenant-billing/internal/analytics/types"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

func TestBuildEnvelope(t *testing.T) {
	paymentID := uuid.NewString()
	payload := outbox.PayloadEnvelope{
		EventID:    "evt-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"payment_id":"` + paymentID + `"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "payment.completed",
		"aggregate_type": "payment",
		"aggregate_id":   paymentID,
	})

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, enums.EventPaymentCompleted, env.EventType)
	assert.Equal(t, enums.AggregatePayment, env.AggregateType)
	assert.Equal(t, paymentID, env.AggregateID)
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, payload.OccurredAt, env.OccurredAt)
}

func TestBuildEnvelopeRejectsUnknownEventType(t *testing.T) {
	msg := buildMessage(outbox.PayloadEnvelope{EventID: "evt-1"}, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "payment",
		"aggregate_id":   "abc",
	})
	_, err := buildEnvelope(msg)
	assert.Error(t, err)
}

func TestProcessAlreadyProcessed(t *testing.T) {
	manager := &stubManager{checkResult: true}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), buildBillingMessage(t))
	assert.False(t, res.nack)
	assert.False(t, handler.called, "handler should not run for a processed event")
	assert.Len(t, manager.checked, 1)
}

func TestProcessHandlerErrorRetries(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), buildBillingMessage(t))
	assert.True(t, res.nack)
	assert.True(t, handler.called)
	assert.Len(t, manager.deleted, 1, "mark is cleared so the redelivery is handled")
}

func TestProcessInvalidEnvelope(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")})
	assert.False(t, res.nack)
	assert.False(t, handler.called)
	assert.Empty(t, manager.checked)
}

func TestProcessUnsupportedEventAcks(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: router.ErrUnsupportedEventType}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), buildBillingMessage(t))
	assert.False(t, res.nack)
	assert.Empty(t, manager.deleted)
}

func TestProcessedMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	marker, err := NewProcessedMarker(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	id := uuid.New()

	seen, err := marker.CheckAndMarkProcessed(ctx, analyticsConsumerName, id)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = marker.CheckAndMarkProcessed(ctx, analyticsConsumerName, id)
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, marker.Delete(ctx, analyticsConsumerName, id))
	seen, err = marker.CheckAndMarkProcessed(ctx, analyticsConsumerName, id)
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = NewProcessedMarker(store, 0)
	assert.Error(t, err)
}

func buildBillingMessage(t *testing.T) *gcppubsub.Message {
	t.Helper()
	payload := outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"foo":"bar"}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "payment.failed",
		"aggregate_type": "payment",
		"aggregate_id":   uuid.NewString(),
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestService(handler Handler, manager *stubManager) *Service {
	return &Service{
		handler: handler,
		manager: manager,
		logg:    logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard}),
	}
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(ctx context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubManager struct {
	checkResult bool
	checkErr    error
	checked     []uuid.UUID
	deleted     []uuid.UUID
}

func (s *stubManager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	s.checked = append(s.checked, eventID)
	return s.checkResult, s.checkErr
}

func (s *stubManager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	return nil
}
