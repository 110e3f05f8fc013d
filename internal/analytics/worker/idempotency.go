package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

// ProcessedMarker remembers which events a consumer already handled.
type ProcessedMarker struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewProcessedMarker(store redis.IdempotencyStore, ttl time.Duration) (*ProcessedMarker, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &ProcessedMarker{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports true when the event was already marked.
func (m *ProcessedMarker) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	set, err := m.store.SetNX(ctx, m.key(consumer, eventID), "1", m.ttl)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return !set, nil
}

func (m *ProcessedMarker) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	return m.store.Del(ctx, m.key(consumer, eventID))
}

func (m *ProcessedMarker) key(consumer string, eventID uuid.UUID) string {
	return m.store.IdempotencyKey("consumer:"+consumer, eventID.String())
}
