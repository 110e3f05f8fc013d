package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/pagination"
)

const maxApplyAttempts = 3

// Service is the only entry point that mutates credit balances. Every
// mutation appends one CreditTransaction and updates the balance in the same
// database transaction.
type Service interface {
	Credit(ctx context.Context, input CreditInput) (Result, error)
	Debit(ctx context.Context, input DebitInput) (Result, error)
	Adjust(ctx context.Context, input AdjustInput) (Result, error)
	// CreditTx applies a credit inside a transaction owned by the caller.
	CreditTx(ctx context.Context, tx *gorm.DB, input CreditInput) (Result, error)
	Balance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	History(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	Verify(ctx context.Context, tenantID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type metricsRecorder interface {
	LedgerOperation(txType, outcome string)
}

// CreditInput adds credits to a tenant balance.
type CreditInput struct {
	TenantID    uuid.UUID
	Amount      int64
	Type        enums.CreditTransactionType
	Description string
	Actor       string
	PaymentID   *uuid.UUID
}

// DebitInput consumes credits for a metered action.
type DebitInput struct {
	TenantID    uuid.UUID
	Amount      int64
	Description string
	Actor       string
}

// AdjustInput is a signed operator correction.
type AdjustInput struct {
	TenantID    uuid.UUID
	Delta       int64
	Description string
	Actor       string
}

// Result is the outcome of a single ledger mutation.
type Result struct {
	Balance       int64
	TransactionID uuid.UUID
	Sequence      int64
}

// HistoryPage is a newest-first page of ledger entries.
type HistoryPage struct {
	Transactions []models.CreditTransaction
	NextCursor   string
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Logger  *logger.Logger
	Metrics metricsRecorder
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	logg    *logger.Logger
	metrics metricsRecorder
	now     func() time.Time
}

// NewService wires the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (Result, error) {
	if err := validateCredit(input); err != nil {
		return Result{}, err
	}
	return s.withRetry(ctx, input.Type, func(tx *gorm.DB) (Result, error) {
		return s.apply(ctx, s.repo.WithTx(tx), entry{
			tenantID:    input.TenantID,
			delta:       input.Amount,
			txType:      input.Type,
			description: input.Description,
			actor:       input.Actor,
			paymentID:   input.PaymentID,
		})
	})
}

func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, input CreditInput) (Result, error) {
	if tx == nil {
		return Result{}, fmt.Errorf("transaction required")
	}
	if err := validateCredit(input); err != nil {
		return Result{}, err
	}
	res, err := s.apply(ctx, s.repo.WithTx(tx), entry{
		tenantID:    input.TenantID,
		delta:       input.Amount,
		txType:      input.Type,
		description: input.Description,
		actor:       input.Actor,
		paymentID:   input.PaymentID,
	})
	s.record(input.Type, err)
	return res, err
}

func (s *service) Debit(ctx context.Context, input DebitInput) (Result, error) {
	if input.TenantID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	return s.withRetry(ctx, enums.CreditTransactionUsage, func(tx *gorm.DB) (Result, error) {
		return s.apply(ctx, s.repo.WithTx(tx), entry{
			tenantID:    input.TenantID,
			delta:       -input.Amount,
			txType:      enums.CreditTransactionUsage,
			description: input.Description,
			actor:       input.Actor,
		})
	})
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (Result, error) {
	if input.TenantID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Delta == 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "adjustment must be non-zero")
	}
	if strings.TrimSpace(input.Description) == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "adjustment requires a description")
	}
	return s.withRetry(ctx, enums.CreditTransactionAdminAdjustment, func(tx *gorm.DB) (Result, error) {
		return s.apply(ctx, s.repo.WithTx(tx), entry{
			tenantID:    input.TenantID,
			delta:       input.Delta,
			txType:      enums.CreditTransactionAdminAdjustment,
			description: input.Description,
			actor:       input.Actor,
		})
	})
}

func (s *service) Balance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if tenantID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	balance, err := s.repo.FindBalance(ctx, tenantID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credit balance")
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Balance, nil
}

func (s *service) History(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var before int64
	if cursor != nil {
		before = cursor.Position
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListTransactions(ctx, tenantID, before, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credit transactions")
	}

	page := &HistoryPage{Transactions: rows}
	if len(rows) > limit {
		page.Transactions = rows[:limit]
		last := page.Transactions[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{Position: last.Sequence, ID: last.ID})
	}
	return page, nil
}

// Verify replays the tenant's log from zero and checks every balance_after
// and the stored balance.
func (s *service) Verify(ctx context.Context, tenantID uuid.UUID) error {
	rows, err := s.repo.ReplayTransactions(ctx, tenantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credit transactions")
	}
	balance, err := s.repo.FindBalance(ctx, tenantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credit balance")
	}

	var running int64
	for i, txn := range rows {
		if txn.Sequence != int64(i+1) {
			return inconsistency(tenantID, fmt.Sprintf("sequence gap at %d (found %d)", i+1, txn.Sequence))
		}
		running += txn.Amount
		if running != txn.BalanceAfter {
			return inconsistency(tenantID, fmt.Sprintf("sequence %d balance_after %d, replay %d", txn.Sequence, txn.BalanceAfter, running))
		}
	}

	var stored int64
	if balance != nil {
		stored = balance.Balance
	}
	if stored != running {
		return inconsistency(tenantID, fmt.Sprintf("stored balance %d, replay %d", stored, running))
	}
	return nil
}

type entry struct {
	tenantID    uuid.UUID
	delta       int64
	txType      enums.CreditTransactionType
	description string
	actor       string
	paymentID   *uuid.UUID
}

// apply reads the locked balance, appends the transaction carrying the exact
// balance_after and persists the new balance. The caller owns the transaction.
func (s *service) apply(ctx context.Context, repo Repository, e entry) (Result, error) {
	balance, err := repo.LockBalance(ctx, e.tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("lock credit balance: %w", err)
	}

	next := balance.Balance + e.delta
	if e.delta > 0 && next < balance.Balance {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrBalanceOverflow, "credit balance would overflow").
			WithDetails(map[string]any{"balance": balance.Balance, "requested": e.delta})
	}
	if next < 0 {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInsufficientCredit, ErrInsufficientCredit, "insufficient credit").
			WithDetails(map[string]any{"balance": balance.Balance, "requested": -e.delta})
	}

	now := s.now().UTC()
	txn := &models.CreditTransaction{
		ID:           uuid.New(),
		TenantID:     e.tenantID,
		Sequence:     balance.Sequence + 1,
		Type:         e.txType,
		Amount:       e.delta,
		BalanceAfter: next,
		Description:  e.description,
		Actor:        e.actor,
		PaymentID:    e.paymentID,
		CreatedAt:    now,
	}
	if err := repo.AppendTransaction(ctx, txn); err != nil {
		if e.paymentID != nil && isPaymentDuplicate(err) {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrPaymentAlreadyCredited, "payment already credited")
		}
		if dbpkg.IsUniqueViolation(err, "") {
			return Result{}, errStaleBalance
		}
		return Result{}, fmt.Errorf("append credit transaction: %w", err)
	}

	prevVersion := balance.Version
	balance.Balance = next
	balance.Sequence = txn.Sequence
	balance.UpdatedAt = now
	if err := repo.SaveBalance(ctx, balance, prevVersion); err != nil {
		return Result{}, err
	}

	return Result{Balance: next, TransactionID: txn.ID, Sequence: txn.Sequence}, nil
}

func retryable(err error) bool {
	return errors.Is(err, errStaleBalance) || dbpkg.IsRetryable(err)
}

// withRetry runs fn in its own transaction, retrying when an optimistic
// version check loses a race.
func (s *service) withRetry(ctx context.Context, txType enums.CreditTransactionType, fn func(tx *gorm.DB) (Result, error)) (Result, error) {
	var (
		res Result
		err error
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var inner error
			res, inner = fn(tx)
			return inner
		})
		if !retryable(err) {
			break
		}
	}
	if retryable(err) {
		err = pkgerrors.Wrap(pkgerrors.CodeConflict, ErrConcurrentUpdate, "credit balance changed concurrently")
	}

	s.record(txType, err)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredit) && s.logg != nil {
			s.logg.Info(ctx, "credit debit refused: insufficient balance")
		}
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply ledger entry")
		}
		return Result{}, err
	}
	return res, nil
}

func (s *service) record(txType enums.CreditTransactionType, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "applied"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientCredit):
		outcome = "insufficient_credit"
	default:
		outcome = "error"
	}
	s.metrics.LedgerOperation(string(txType), outcome)
}

func validateCredit(input CreditInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if !input.Type.IsValid() || !input.Type.IsCredit() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid credit transaction type %q", input.Type))
	}
	return nil
}

func isPaymentDuplicate(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_credit_transactions_payment") ||
		dbpkg.IsUniqueViolation(err, "credit_transactions.payment_id")
}

func inconsistency(tenantID uuid.UUID, detail string) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, ErrInconsistentLedger, "credit ledger inconsistent").
		WithDetails(map[string]any{"tenant_id": tenantID.String(), "detail": detail})
}
