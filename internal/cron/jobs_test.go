package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenant-billing/internal/ledger"
	"github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/dbtest"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
)

type fakeSweeper struct {
	expired  []models.Subscription
	expiring []models.Subscription
	failOn   uuid.UUID
	expires  []uuid.UUID
	reasons  []string
	notified map[uuid.UUID]int
	lead     time.Duration
}

func (f *fakeSweeper) ListExpired(context.Context, time.Time, int) ([]models.Subscription, error) {
	return f.expired, nil
}

func (f *fakeSweeper) ListExpiringWithin(_ context.Context, _ time.Time, lead time.Duration, _ int) ([]models.Subscription, error) {
	f.lead = lead
	return f.expiring, nil
}

func (f *fakeSweeper) Expire(_ context.Context, id uuid.UUID, reason, _ string) (*models.Subscription, error) {
	if id == f.failOn {
		return nil, errors.New("locked")
	}
	f.expires = append(f.expires, id)
	f.reasons = append(f.reasons, reason)
	return &models.Subscription{ID: id, Status: enums.SubscriptionStatusExpired}, nil
}

func (f *fakeSweeper) NotifyExpiring(_ context.Context, id uuid.UUID) (bool, error) {
	if f.notified == nil {
		f.notified = map[uuid.UUID]int{}
	}
	f.notified[id]++
	return f.notified[id] == 1, nil
}

func TestSubscriptionExpiryJobContinuesPastFailures(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	sweeper := &fakeSweeper{
		expired: []models.Subscription{{ID: a}, {ID: b}, {ID: c}},
		failOn:  b,
	}
	job, err := NewSubscriptionExpiryJob(SubscriptionJobParams{Logger: testLogger(), Subscriptions: sweeper})
	require.NoError(t, err)
	assert.Equal(t, "subscription_expiry", job.Name())

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), b.String())
	assert.Equal(t, []uuid.UUID{a, c}, sweeper.expires)
	for _, reason := range sweeper.reasons {
		assert.Equal(t, subscriptions.ReasonExpired, reason)
	}
}

func TestSubscriptionExpiryWarningJob(t *testing.T) {
	id := uuid.New()
	sweeper := &fakeSweeper{expiring: []models.Subscription{{ID: id}}}
	job, err := NewSubscriptionExpiryWarningJob(SubscriptionJobParams{
		Logger:        testLogger(),
		Subscriptions: sweeper,
		Lead:          72 * time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, sweeper.notified[id])
	assert.Equal(t, 72*time.Hour, sweeper.lead)
}

func TestLowBalanceJobAlertsOncePerDay(t *testing.T) {
	conn := dbtest.Open(t)
	tx := dbpkg.FromConn(conn)
	ledgerRepo := ledger.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	led, err := ledger.NewService(ledger.ServiceParams{Repo: ledgerRepo, Tx: tx})
	require.NoError(t, err)

	ctx := context.Background()
	low, healthy := uuid.New(), uuid.New()
	_, err = led.Credit(ctx, ledger.CreditInput{TenantID: low, Amount: 10, Type: enums.CreditTransactionPurchase, Description: "starter"})
	require.NoError(t, err)
	_, err = led.Credit(ctx, ledger.CreditInput{TenantID: healthy, Amount: 500, Type: enums.CreditTransactionPurchase, Description: "bulk"})
	require.NoError(t, err)

	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	job, err := NewLowBalanceJob(LowBalanceJobParams{
		Logger:    testLogger(),
		DB:        tx,
		Balances:  ledgerRepo,
		Outbox:    outbox.NewService(outboxRepo, nil),
		Threshold: 50,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(ctx))
	now = now.Add(6 * time.Hour)
	require.NoError(t, job.Run(ctx))

	events, err := outboxRepo.ListByAggregate(ctx, low)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventCreditsLowBalance, events[0].EventType)

	none, err := outboxRepo.ListByAggregate(ctx, healthy)
	require.NoError(t, err)
	assert.Empty(t, none)

	now = now.Add(24 * time.Hour)
	require.NoError(t, job.Run(ctx))
	events, err = outboxRepo.ListByAggregate(ctx, low)
	require.NoError(t, err)
	assert.Len(t, events, 2, "a new day allows a new alert")
}

type fakeReconciler struct {
	pending  []models.Payment
	outcomes map[uuid.UUID]enums.PaymentStatus
	errs     map[uuid.UUID]error
	calls    []uuid.UUID
	maxAge   time.Duration
}

func (f *fakeReconciler) ListPending(_ context.Context, olderThan time.Duration, _ int) ([]models.Payment, error) {
	f.maxAge = olderThan
	return f.pending, nil
}

func (f *fakeReconciler) Reconcile(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return &models.Payment{ID: id, Status: f.outcomes[id]}, nil
}

func TestPendingPaymentJob(t *testing.T) {
	settled, declined, offline, down, broken := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	rec := &fakeReconciler{
		pending: []models.Payment{
			{ID: settled, Method: enums.PaymentMethodHostedGateway},
			{ID: declined, Method: enums.PaymentMethodHostedGateway},
			{ID: offline, Method: enums.PaymentMethodBankTransfer},
			{ID: down, Method: enums.PaymentMethodHostedGateway},
			{ID: broken, Method: enums.PaymentMethodHostedGateway},
		},
		outcomes: map[uuid.UUID]enums.PaymentStatus{
			settled:  enums.PaymentStatusCompleted,
			declined: enums.PaymentStatusFailed,
		},
		errs: map[uuid.UUID]error{
			down:   pkgerrors.Wrap(pkgerrors.CodeDependency, payments.ErrProviderUnavailable, "timeout"),
			broken: errors.New("db gone"),
		},
	}
	job, err := NewPendingPaymentJob(PendingPaymentJobParams{Logger: testLogger(), Payments: rec, MaxAge: time.Hour})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err, "unexpected failures surface")
	assert.Contains(t, err.Error(), broken.String())
	assert.NotContains(t, err.Error(), down.String(), "an unreachable provider is retried next tick")
	assert.NotContains(t, rec.calls, offline)
	assert.Len(t, rec.calls, 4)
	assert.Equal(t, time.Hour, rec.maxAge)
}
