// Package settlement applies confirmed payments. It is the only code path
// that moves a payment to completed, and it does so in the same database
// transaction that credits the ledger or activates the subscription, queues
// the payment event and issues the invoice.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenant-billing/internal/catalog"
	"github.com/angelmondragon/tenant-billing/internal/ledger"
	"github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerCrediter interface {
	CreditTx(ctx context.Context, tx *gorm.DB, input ledger.CreditInput) (ledger.Result, error)
}

type subscriptionActivator interface {
	ActivateOrRenew(ctx context.Context, tx *gorm.DB, tenantID, subscriptionID uuid.UUID, actor string) (*models.Subscription, subscriptions.Outcome, error)
	CancelTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
}

type invoiceIssuer interface {
	IssueSaleTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Invoice, error)
	GetByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type metricsRecorder interface {
	Settlement(kind, outcome string)
}

type ServiceParams struct {
	Payments      payments.Repository
	Packages      catalog.Repository
	Tx            txRunner
	Ledger        ledgerCrediter
	Subscriptions subscriptionActivator
	Invoices      invoiceIssuer
	Outbox        eventEmitter
	Logger        *logger.Logger
	Metrics       metricsRecorder
	Now           func() time.Time
}

// Service implements payments.Settler.
type Service struct {
	payments payments.Repository
	packages catalog.Repository
	tx       txRunner
	ledger   ledgerCrediter
	subs     subscriptionActivator
	invoices invoiceIssuer
	outbox   eventEmitter
	logg     *logger.Logger
	metrics  metricsRecorder
	now      func() time.Time
}

var _ payments.Settler = (*Service)(nil)

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Payments == nil:
		return nil, fmt.Errorf("payment repository required")
	case params.Packages == nil:
		return nil, fmt.Errorf("catalog repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Subscriptions == nil:
		return nil, fmt.Errorf("subscription service required")
	case params.Invoices == nil:
		return nil, fmt.Errorf("invoice service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		payments: params.Payments,
		packages: params.Packages,
		tx:       params.Tx,
		ledger:   params.Ledger,
		subs:     params.Subscriptions,
		invoices: params.Invoices,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Settle completes a pending payment and applies its effect once. Settling
// an already completed payment returns the stored outcome with Replayed set.
func (s *Service) Settle(ctx context.Context, paymentID uuid.UUID, req payments.SettleRequest) (*payments.SettleResult, error) {
	var (
		res  *payments.SettleResult
		kind = "unknown"
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		payment, err := repo.LockByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment")
		}
		if payment == nil {
			return payments.ErrNotFound
		}
		kind = string(payment.Kind)

		switch payment.Status {
		case enums.PaymentStatusPending:
		case enums.PaymentStatusCompleted:
			res = &payments.SettleResult{Payment: payment, Replayed: true}
			return nil
		default:
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, payments.ErrInvalidTransition, fmt.Sprintf("cannot settle a %s payment", payment.Status))
		}

		now := s.now().UTC()
		payment.Status = enums.PaymentStatusCompleted
		payment.CompletedAt = &now
		if txn := strings.TrimSpace(req.GatewayTxnID); txn != "" {
			payment.GatewayTxnID = &txn
		}
		if req.ApprovedBy != nil {
			approver := *req.ApprovedBy
			payment.ApprovedBy = &approver
			payment.ApprovedAt = &now
		}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			payment.Notes = joinNotes(payment.Notes, notes)
		}
		raw, err := payments.MergeRaw(payment.Gateway, payment.GatewayData, req.GatewayData)
		if err != nil {
			return err
		}
		payment.GatewayData = raw
		if err := repo.Save(ctx, payment); err != nil {
			return err
		}

		res = &payments.SettleResult{Payment: payment}
		if err := s.applyEffect(ctx, tx, payment, req.Actor, res); err != nil {
			return err
		}
		if err := s.emitCompleted(ctx, tx, payment, req.ApprovedBy, res); err != nil {
			return err
		}
		invoice, err := s.invoices.IssueSaleTx(ctx, tx, payment)
		if err != nil {
			return err
		}
		res.Invoice = invoice
		return nil
	})
	if err != nil {
		if isDuplicateTxn(err) {
			return s.replayByTxn(ctx, kind, req.GatewayTxnID, err)
		}
		s.record(kind, "error")
		s.logError(ctx, paymentID, "settlement.failed", err)
		if effectRejected(err) {
			// The payment cannot complete, so it must not stay pending.
			if _, ferr := s.Fail(ctx, paymentID, payments.FailRequest{Reason: "settlement rejected: " + pkgerrors.As(err).Message(), Actor: req.Actor}); ferr != nil {
				s.logError(ctx, paymentID, "settlement.fail_after_error", ferr)
			}
		}
		return nil, err
	}

	if res.Replayed {
		s.record(kind, "replayed")
		if inv, err := s.invoices.GetByPayment(ctx, res.Payment.ID); err == nil {
			res.Invoice = inv
		}
		return res, nil
	}
	s.record(kind, "settled")
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payment_id":    res.Payment.ID.String(),
			"tenant_id":     res.Payment.TenantID.String(),
			"kind":          kind,
			"credits_added": res.CreditsAdded,
		}), "settlement.completed")
	}
	return res, nil
}

// replayByTxn handles a provider transaction id that already settled a
// payment: the stored payment is returned instead of an error.
func (s *Service) replayByTxn(ctx context.Context, kind, txnID string, cause error) (*payments.SettleResult, error) {
	existing, err := s.payments.FindByGatewayTxnID(ctx, strings.TrimSpace(txnID))
	if err != nil || existing == nil || existing.Status != enums.PaymentStatusCompleted {
		s.record(kind, "error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, cause, "gateway transaction already recorded")
	}
	s.record(kind, "replayed")
	return &payments.SettleResult{Payment: existing, Replayed: true}, nil
}

func (s *Service) applyEffect(ctx context.Context, tx *gorm.DB, payment *models.Payment, actor string, res *payments.SettleResult) error {
	if actor == "" {
		actor = "system"
	}
	switch payment.Kind {
	case enums.PaymentKindCreditPackage:
		if payment.CreditPackageID == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "credit package payment has no package")
		}
		pkg, err := s.packages.WithTx(tx).FindPackage(ctx, *payment.CreditPackageID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credit package")
		}
		if pkg == nil {
			return catalog.ErrPackageNotFound
		}
		paymentID := payment.ID
		if _, err := s.ledger.CreditTx(ctx, tx, ledger.CreditInput{
			TenantID:    payment.TenantID,
			Amount:      pkg.TotalCredits(),
			Type:        enums.CreditTransactionPurchase,
			Description: "purchase: " + pkg.Name,
			Actor:       actor,
			PaymentID:   &paymentID,
		}); err != nil {
			return err
		}
		res.CreditsAdded = pkg.TotalCredits()
	case enums.PaymentKindSubscription:
		if payment.SubscriptionID == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "subscription payment has no subscription")
		}
		sub, _, err := s.subs.ActivateOrRenew(ctx, tx, payment.TenantID, *payment.SubscriptionID, actor)
		if err != nil {
			return err
		}
		res.Subscription = sub
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown payment kind %q", payment.Kind))
	}
	return nil
}

func (s *Service) emitCompleted(ctx context.Context, tx *gorm.DB, payment *models.Payment, approvedBy *uuid.UUID, res *payments.SettleResult) error {
	data := payloads.PaymentCompletedEvent{
		PaymentID:    payment.ID,
		TenantID:     payment.TenantID,
		Kind:         payment.Kind,
		Gateway:      string(payment.Gateway),
		Amount:       payment.Amount.StringFixed(2),
		Currency:     payment.CurrencyCode,
		CreditsAdded: res.CreditsAdded,
		CompletedAt:  *payment.CompletedAt,
	}
	if res.Subscription != nil {
		id := res.Subscription.ID
		data.SubscriptionID = &id
	}
	actor := &outbox.ActorRef{Role: string(enums.ActorRoleSystem)}
	if approvedBy != nil {
		actor = &outbox.ActorRef{UserID: approvedBy, Role: string(enums.ActorRoleBillingAdmin)}
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		OccurredAt:    *payment.CompletedAt,
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue payment event")
	}
	return nil
}

// Fail moves a pending payment to failed without applying any effect. The
// pending subscription behind a failed subscription payment is cancelled in
// the same transaction.
func (s *Service) Fail(ctx context.Context, paymentID uuid.UUID, req payments.FailRequest) (*models.Payment, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "payment failed"
	}
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}
	var (
		out     *models.Payment
		changed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		payment, err := repo.LockByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment")
		}
		if payment == nil {
			return payments.ErrNotFound
		}
		switch payment.Status {
		case enums.PaymentStatusPending:
		case enums.PaymentStatusFailed:
			out = payment
			return nil
		default:
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, payments.ErrInvalidTransition, fmt.Sprintf("cannot fail a %s payment", payment.Status))
		}

		payment.Status = enums.PaymentStatusFailed
		payment.FailureReason = &reason
		raw, err := payments.MergeRaw(payment.Gateway, payment.GatewayData, req.GatewayData)
		if err != nil {
			return err
		}
		payment.GatewayData = raw
		if err := repo.Save(ctx, payment); err != nil {
			return err
		}
		if payment.SubscriptionID != nil {
			if _, err := s.subs.CancelTx(ctx, tx, *payment.SubscriptionID, "payment failed: "+reason, actor); err != nil {
				return err
			}
		}
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
			OccurredAt:    s.now().UTC(),
			Data: payloads.PaymentFailedEvent{
				PaymentID: payment.ID,
				TenantID:  payment.TenantID,
				Gateway:   string(payment.Gateway),
				Reason:    reason,
				FailedAt:  s.now().UTC(),
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue payment event")
		}
		out = payment
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return out, nil
	}

	s.record(string(out.Kind), "failed")
	if s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payment_id": out.ID.String(),
			"tenant_id":  out.TenantID.String(),
			"reason":     reason,
		}), "settlement.payment_failed")
	}
	return out, nil
}

func (s *Service) record(kind, outcome string) {
	if s.metrics != nil {
		s.metrics.Settlement(kind, outcome)
	}
}

func (s *Service) logError(ctx context.Context, paymentID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithField(ctx, "payment_id", paymentID.String()), msg, err)
}

// effectRejected reports whether applying the payment failed for a reason
// that a retry cannot fix. Retryable and infrastructure errors leave the
// payment pending.
func effectRejected(err error) bool {
	if dbpkg.IsRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, payments.ErrInvalidTransition) || errors.Is(err, payments.ErrNotFound) {
		return false
	}
	return pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) ||
		pkgerrors.IsCode(err, pkgerrors.CodeValidation) ||
		pkgerrors.IsCode(err, pkgerrors.CodeNotFound)
}

// isDuplicateTxn matches the Postgres constraint and the SQLite column form.
func isDuplicateTxn(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_payments_gateway_txn_id") ||
		dbpkg.IsUniqueViolation(err, "payments.gateway_txn_id")
}

func joinNotes(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "\n" + extra
}
