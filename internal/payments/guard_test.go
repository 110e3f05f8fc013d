package payments

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

func TestCallbackGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	guard, err := NewCallbackGuard(store, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, enums.GatewayStripe, "evt:1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, enums.GatewayStripe, "evt:1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = guard.CheckAndMark(ctx, enums.GatewaySquare, "evt:1")
	require.NoError(t, err)
	assert.False(t, seen, "keys are scoped per gateway")

	require.NoError(t, guard.Delete(ctx, enums.GatewayStripe, "evt:1"))
	seen, err = guard.CheckAndMark(ctx, enums.GatewayStripe, "evt:1")
	require.NoError(t, err)
	assert.False(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = guard.CheckAndMark(ctx, enums.GatewaySquare, "evt:1")
	require.NoError(t, err)
	assert.False(t, seen, "marks expire with the ttl")

	_, err = guard.CheckAndMark(ctx, enums.GatewaySquare, "")
	assert.Error(t, err)
}

func TestGuardIDPrefersEvent(t *testing.T) {
	assert.Equal(t, "evt:e", guardID(&Verification{EventID: "e", GatewayTxnID: "t", Token: "k"}))
	assert.Equal(t, "txn:t", guardID(&Verification{GatewayTxnID: "t", Token: "k"}))
	assert.Equal(t, "tok:k", guardID(&Verification{Token: "k"}))
}

func TestNewCallbackGuardValidates(t *testing.T) {
	_, err := NewCallbackGuard(nil, time.Minute)
	assert.Error(t, err)
}
