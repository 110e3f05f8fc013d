package entitlements

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenant-billing/internal/ledger"
	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/dbtest"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

type stubPlans struct {
	plans   map[uuid.UUID]*models.Plan
	expires map[uuid.UUID]time.Time
	err     error
}

func (s stubPlans) Current(_ context.Context, tenantID uuid.UUID) (*models.Subscription, *models.Plan, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	plan, ok := s.plans[tenantID]
	if !ok {
		return nil, nil, subscriptions.ErrNoActiveSubscription
	}
	sub := &models.Subscription{TenantID: tenantID, PlanID: plan.ID, Status: enums.SubscriptionStatusActive}
	if at, ok := s.expires[tenantID]; ok {
		sub.ExpiresAt = &at
	}
	return sub, plan, nil
}

func newService(t *testing.T, plans stubPlans) (*Service, ledger.Service) {
	t.Helper()
	conn := dbtest.Open(t)
	led, err := ledger.NewService(ledger.ServiceParams{
		Repo: ledger.NewRepository(conn),
		Tx:   dbpkg.FromConn(conn),
		Now:  func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	svc, err := NewService(plans, led, nil)
	require.NoError(t, err)
	return svc, led
}

func proPlan(t *testing.T) *models.Plan {
	features, err := json.Marshal(map[string]bool{"sms_campaigns": true, "api_access": false})
	require.NoError(t, err)
	return &models.Plan{
		ID:             uuid.New(),
		Code:           "pro",
		MaxSeats:       3,
		MaxLocations:   0,
		MaxPeriodUsage: 500,
		Features:       features,
	}
}

func TestHasFeature(t *testing.T) {
	tenant := uuid.New()
	svc, _ := newService(t, stubPlans{plans: map[uuid.UUID]*models.Plan{tenant: proPlan(t)}})
	ctx := context.Background()

	ok, err := svc.HasFeature(ctx, tenant, "sms_campaigns")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasFeature(ctx, tenant, "api_access")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.HasFeature(ctx, uuid.New(), "sms_campaigns")
	require.NoError(t, err)
	assert.False(t, ok, "no subscription means no features")
}

func TestHasFeaturePropagatesLookupErrors(t *testing.T) {
	boom := errors.New("db down")
	svc, _ := newService(t, stubPlans{err: boom})
	_, err := svc.HasFeature(context.Background(), uuid.New(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestLapsedSubscriptionGrantsNothing(t *testing.T) {
	lapsed, current := uuid.New(), uuid.New()
	svc, _ := newService(t, stubPlans{
		plans: map[uuid.UUID]*models.Plan{lapsed: proPlan(t), current: proPlan(t)},
		expires: map[uuid.UUID]time.Time{
			lapsed:  time.Now().Add(-time.Minute),
			current: time.Now().Add(time.Hour),
		},
	})
	ctx := context.Background()

	ok, err := svc.HasFeature(ctx, lapsed, "sms_campaigns")
	require.NoError(t, err)
	assert.False(t, ok)
	err = svc.CheckLimit(ctx, lapsed, LimitSeats, 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.ErrorIs(t, err, subscriptions.ErrNoActiveSubscription)

	ok, err = svc.HasFeature(ctx, current, "sms_campaigns")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckLimit(t *testing.T) {
	tenant := uuid.New()
	svc, _ := newService(t, stubPlans{plans: map[uuid.UUID]*models.Plan{tenant: proPlan(t)}})
	ctx := context.Background()

	assert.NoError(t, svc.CheckLimit(ctx, tenant, LimitSeats, 2))

	err := svc.CheckLimit(ctx, tenant, LimitSeats, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	assert.NoError(t, svc.CheckLimit(ctx, tenant, LimitLocations, 10_000), "zero quota is unlimited")
	assert.Error(t, svc.CheckLimit(ctx, tenant, LimitPeriodUsage, 500))

	err = svc.CheckLimit(ctx, tenant, Limit("storage"), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.CheckLimit(ctx, uuid.New(), LimitSeats, 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestConsumeDebitsPooledCredits(t *testing.T) {
	tenant := uuid.New()
	svc, led := newService(t, stubPlans{})
	ctx := context.Background()

	_, err := led.Credit(ctx, ledger.CreditInput{TenantID: tenant, Amount: 2, Type: enums.CreditTransactionPurchase, Description: "pack"})
	require.NoError(t, err)

	res, err := svc.Consume(ctx, tenant, 1, "sms send", "campaigns")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Balance)

	_, err = svc.Consume(ctx, tenant, 5, "sms blast", "campaigns")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	bal, err := led.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal, "a refused debit leaves the balance intact")
}
