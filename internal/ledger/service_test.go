package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/dbtest"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/pagination"
)

type fakeMetrics struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeMetrics) LedgerOperation(txType, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[txType+"/"+outcome]++
}

func newTestService(t *testing.T) (Service, Repository, *fakeMetrics) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	metrics := &fakeMetrics{}
	svc, err := NewService(ServiceParams{
		Repo:    repo,
		Tx:      dbpkg.FromConn(conn),
		Metrics: metrics,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc, repo, metrics
}

func TestCreditAndDebitTrackRunningBalance(t *testing.T) {
	svc, repo, metrics := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	res, err := svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: 130, Type: enums.CreditTransactionPurchase, Description: "package"})
	require.NoError(t, err)
	assert.Equal(t, int64(130), res.Balance)
	assert.Equal(t, int64(1), res.Sequence)

	res, err = svc.Debit(ctx, DebitInput{TenantID: tenant, Amount: 30, Description: "report"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Balance)

	balance, err := svc.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	rows, err := repo.ReplayTransactions(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(130), rows[0].BalanceAfter)
	assert.Equal(t, int64(-30), rows[1].Amount)
	assert.Equal(t, int64(100), rows[1].BalanceAfter)
	assert.Equal(t, enums.CreditTransactionUsage, rows[1].Type)

	require.NoError(t, svc.Verify(ctx, tenant))
	assert.Equal(t, 1, metrics.calls["purchase/applied"])
	assert.Equal(t, 1, metrics.calls["usage/applied"])
}

func TestDebitRefusedWhenBalanceTooLow(t *testing.T) {
	svc, repo, metrics := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: 3, Type: enums.CreditTransactionBonus})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, DebitInput{TenantID: tenant, Amount: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCredit))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredit))

	balance, err := svc.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)

	rows, err := repo.ReplayTransactions(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, metrics.calls["usage/insufficient_credit"])
}

func TestDebitWithoutBalanceRowLeavesNothingBehind(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := svc.Debit(ctx, DebitInput{TenantID: tenant, Amount: 1})
	require.ErrorIs(t, err, ErrInsufficientCredit)

	stored, err := repo.FindBalance(ctx, tenant)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: 10, Type: enums.CreditTransactionPurchase})
	require.NoError(t, err)

	const workers = 25
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		refused   atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, DebitInput{TenantID: tenant, Amount: 1})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientCredit):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, int64(workers-10), refused.Load())

	balance, err := svc.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Zero(t, balance)
	require.NoError(t, svc.Verify(ctx, tenant))
}

func TestAdjustRequiresDescriptionAndHonoursFloor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := svc.Adjust(ctx, AdjustInput{TenantID: tenant, Delta: 5})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	res, err := svc.Adjust(ctx, AdjustInput{TenantID: tenant, Delta: 5, Description: "goodwill", Actor: "admin:1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Balance)

	_, err = svc.Adjust(ctx, AdjustInput{TenantID: tenant, Delta: -6, Description: "clawback"})
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	res, err = svc.Adjust(ctx, AdjustInput{TenantID: tenant, Delta: -5, Description: "clawback"})
	require.NoError(t, err)
	assert.Zero(t, res.Balance)
}

func TestCreditRefusesBalanceOverflow(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: math.MaxInt64 - 1, Type: enums.CreditTransactionBonus})
	require.NoError(t, err)

	_, err = svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: 5, Type: enums.CreditTransactionPurchase})
	require.ErrorIs(t, err, ErrBalanceOverflow)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	balance, err := svc.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), balance)
	rows, err := repo.ReplayTransactions(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreditValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreditInput
	}{
		{"missing tenant", CreditInput{Amount: 1, Type: enums.CreditTransactionPurchase}},
		{"zero amount", CreditInput{TenantID: uuid.New(), Type: enums.CreditTransactionPurchase}},
		{"usage type", CreditInput{TenantID: uuid.New(), Amount: 1, Type: enums.CreditTransactionUsage}},
		{"unknown type", CreditInput{TenantID: uuid.New(), Amount: 1, Type: "gift"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Credit(ctx, tc.input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}

	_, err := svc.Debit(ctx, DebitInput{TenantID: uuid.New(), Amount: -1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreditTxRejectsSecondEntryForSamePayment(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{Repo: NewRepository(conn), Tx: dbpkg.FromConn(conn)})
	require.NoError(t, err)
	ctx := context.Background()
	tenant := uuid.New()
	payment := uuid.New()

	input := CreditInput{TenantID: tenant, Amount: 50, Type: enums.CreditTransactionPurchase, PaymentID: &payment}
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.CreditTx(ctx, tx, input)
		return err
	}))

	err = conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.CreditTx(ctx, tx, input)
		return err
	})
	assert.ErrorIs(t, err, ErrPaymentAlreadyCredited)

	balance, err := svc.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: int64(i + 1), Type: enums.CreditTransactionBonus})
		require.NoError(t, err)
	}

	page, err := svc.History(ctx, tenant, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, int64(5), page.Transactions[0].Sequence)
	assert.Equal(t, int64(4), page.Transactions[1].Sequence)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.History(ctx, tenant, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, int64(3), page.Transactions[0].Sequence)

	page, err = svc.History(ctx, tenant, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Empty(t, page.NextCursor)

	_, err = svc.History(ctx, tenant, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestVerifyDetectsTamperedBalance(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{Repo: NewRepository(conn), Tx: dbpkg.FromConn(conn)})
	require.NoError(t, err)
	ctx := context.Background()
	tenant := uuid.New()

	_, err = svc.Credit(ctx, CreditInput{TenantID: tenant, Amount: 20, Type: enums.CreditTransactionPurchase})
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, tenant))

	require.NoError(t, conn.Model(&models.CreditBalance{}).Where("tenant_id = ?", tenant).Update("balance", 25).Error)
	assert.ErrorIs(t, svc.Verify(ctx, tenant), ErrInconsistentLedger)
}
