package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

// CallbackGuard drops callbacks that are already being processed. A mark
// is removed again when processing fails so the provider retry goes through.
type CallbackGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewCallbackGuard(store redis.IdempotencyStore, ttl time.Duration) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &CallbackGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether id was already marked for gateway.
func (g *CallbackGuard) CheckAndMark(ctx context.Context, gateway enums.Gateway, id string) (bool, error) {
	if g == nil {
		return false, nil
	}
	if id == "" {
		return false, errors.New("callback id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(gateway, id), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set callback key: %w", err)
	}
	return !set, nil
}

func (g *CallbackGuard) Delete(ctx context.Context, gateway enums.Gateway, id string) error {
	if g == nil || id == "" {
		return nil
	}
	return g.store.Del(ctx, g.key(gateway, id))
}

func (g *CallbackGuard) key(gateway enums.Gateway, id string) string {
	return g.store.IdempotencyKey("callback:"+string(gateway), id)
}

// guardID picks the most specific identifier a verification carries.
func guardID(v *Verification) string {
	switch {
	case v.EventID != "":
		return "evt:" + v.EventID
	case v.GatewayTxnID != "":
		return "txn:" + v.GatewayTxnID
	default:
		return "tok:" + v.Token
	}
}
