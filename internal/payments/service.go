package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenant-billing/internal/authz"
	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const defaultGatewayTimeout = 15 * time.Second

// Settler applies the effect of a confirmed payment exactly once.
type Settler interface {
	Settle(ctx context.Context, paymentID uuid.UUID, req SettleRequest) (*SettleResult, error)
	Fail(ctx context.Context, paymentID uuid.UUID, req FailRequest) (*models.Payment, error)
}

// SettleRequest carries what the confirming party knows about the payment.
type SettleRequest struct {
	GatewayTxnID string
	GatewayData  GatewayData
	ApprovedBy   *uuid.UUID
	Actor        string
	Notes        string
}

type FailRequest struct {
	Reason      string
	Actor       string
	GatewayData GatewayData
}

// SettleResult describes the settled payment. Replayed is set when the
// payment was already terminal and nothing was applied.
type SettleResult struct {
	Payment      *models.Payment
	Replayed     bool
	CreditsAdded int64
	Subscription *models.Subscription
	Invoice      *models.Invoice
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalogReader interface {
	PurchasablePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	PurchasablePackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
}

type subscriptionCreator interface {
	CreateTx(ctx context.Context, tx *gorm.DB, input subscriptions.CreateInput) (*models.Subscription, error)
	CancelTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
}

type proofStore interface {
	Upload(ctx context.Context, object, contentType string, r io.Reader) (int64, error)
	Delete(ctx context.Context, object string) error
	SignedURL(object string) (string, error)
}

type metricsRecorder interface {
	Callback(gateway, outcome string)
}

// InitiateInput starts a purchase of exactly one plan or credit package.
type InitiateInput struct {
	TenantID       uuid.UUID
	PlanID         *uuid.UUID
	PackageID      *uuid.UUID
	Method         enums.PaymentMethod
	Gateway        enums.Gateway
	Buyer          Buyer
	DurationMonths int
	Notes          string
	Actor          authz.Actor
}

type InitiateResult struct {
	Payment  *models.Payment
	Checkout *CheckoutMaterial
}

// ProofInput attaches a transfer reference and/or a scanned receipt.
type ProofInput struct {
	TenantID    uuid.UUID
	PaymentID   uuid.UUID
	Reference   string
	Document    io.Reader
	ContentType string
	Filename    string
	Actor       authz.Actor
}

type ApproveInput struct {
	Actor     authz.Actor
	PaymentID uuid.UUID
	Notes     string
}

type RejectInput struct {
	Actor     authz.Actor
	PaymentID uuid.UUID
	Reason    string
}

// CallbackResult tells the transport where to send the buyer.
type CallbackResult struct {
	Payment     *models.Payment
	Status      enums.PaymentStatus
	RedirectURL string
	Duplicate   bool
}

type ServiceParams struct {
	Repo           Repository
	Tx             txRunner
	Catalog        catalogReader
	Subscriptions  subscriptionCreator
	Gateways       *Registry
	Settler        Settler
	Guard          *CallbackGuard
	Proofs         proofStore
	Logger         *logger.Logger
	Metrics        metricsRecorder
	GatewayTimeout time.Duration
	SuccessURL     string
	FailureURL     string
	Now            func() time.Time
}

// Service runs the payment lifecycle up to the point where settlement takes
// over: initiation, provider callbacks, offline proof and staff review.
type Service struct {
	repo     Repository
	tx       txRunner
	catalog  catalogReader
	subs     subscriptionCreator
	gateways *Registry
	settler  Settler
	guard    *CallbackGuard
	proofs   proofStore
	logg     *logger.Logger
	metrics  metricsRecorder
	timeout  time.Duration
	success  string
	failure  string
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment repo required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	if params.Gateways == nil {
		params.Gateways = NewRegistry(ManualGateway{})
	}
	timeout := params.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		tx:       params.Tx,
		catalog:  params.Catalog,
		subs:     params.Subscriptions,
		gateways: params.Gateways,
		settler:  params.Settler,
		guard:    params.Guard,
		proofs:   params.Proofs,
		logg:     params.Logger,
		metrics:  params.Metrics,
		timeout:  timeout,
		success:  params.SuccessURL,
		failure:  params.FailureURL,
		now:      now,
	}, nil
}

// Initiate records a pending payment and, for hosted methods, opens the
// provider checkout. Provider calls never run inside a database transaction.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if err := authz.CanPurchase(input.Actor, input.TenantID); err != nil {
		return nil, err
	}
	if (input.PlanID == nil) == (input.PackageID == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of plan_id or package_id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	gatewayName := input.Gateway
	if input.Method.IsOffline() {
		if gatewayName == "" {
			gatewayName = enums.GatewayManual
		}
	} else if gatewayName == "" || gatewayName == enums.GatewayManual {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hosted payments require a gateway")
	}
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	if !gw.Supports(input.Method) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("gateway %s does not support %s", gatewayName, input.Method))
	}
	buyer := Buyer{Name: strings.TrimSpace(input.Buyer.Name), Email: strings.TrimSpace(input.Buyer.Email)}
	if input.Method == enums.PaymentMethodHostedGateway && buyer.Email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer email is required for hosted checkout")
	}

	var (
		plan        *models.Plan
		pkg         *models.CreditPackage
		description string
	)
	if input.PlanID != nil {
		if plan, err = s.catalog.PurchasablePlan(ctx, *input.PlanID); err != nil {
			return nil, err
		}
		description = plan.Name
	} else {
		if pkg, err = s.catalog.PurchasablePackage(ctx, *input.PackageID); err != nil {
			return nil, err
		}
		description = pkg.Name
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		TenantID:    input.TenantID,
		Method:      input.Method,
		Status:      enums.PaymentStatusPending,
		Gateway:     gatewayName,
		GatewayData: json.RawMessage(`{}`),
		BuyerName:   buyer.Name,
		BuyerEmail:  buyer.Email,
		Notes:       strings.TrimSpace(input.Notes),
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if plan != nil {
			sub, err := s.subs.CreateTx(ctx, tx, subscriptions.CreateInput{
				TenantID:       input.TenantID,
				PlanID:         plan.ID,
				DurationMonths: input.DurationMonths,
				Notes:          input.Notes,
				Actor:          input.Actor.String(),
			})
			if err != nil {
				return err
			}
			payment.Kind = enums.PaymentKindSubscription
			payment.PlanID = &plan.ID
			payment.SubscriptionID = &sub.ID
			payment.Amount = sub.DiscountedPrice
			payment.CurrencyCode = sub.CurrencyCode
		} else {
			payment.Kind = enums.PaymentKindCreditPackage
			payment.CreditPackageID = &pkg.ID
			payment.Amount = pkg.PriceAmount
			payment.CurrencyCode = pkg.CurrencyCode
		}
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logCtx(ctx, payment)
	if input.Method.IsOffline() {
		s.info(ctx, "payment.initiated")
		return &InitiateResult{Payment: payment}, nil
	}

	material, err := s.openCheckout(ctx, gw, CheckoutRequest{Payment: payment, Buyer: buyer, Description: description})
	if err != nil {
		// The provider may still have created the checkout, so an
		// unreachable provider leaves the payment pending for reconcile.
		if isUnavailable(err) {
			s.logError(ctx, "payment.checkout_unavailable", err)
			return &InitiateResult{Payment: payment}, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrProviderUnavailable, "could not open checkout")
		}
		s.logError(ctx, "payment.checkout_rejected", err)
		failed, ferr := s.settler.Fail(ctx, payment.ID, FailRequest{Reason: "checkout rejected by gateway", Actor: "system"})
		if ferr != nil {
			s.logError(ctx, "payment.fail_after_checkout_error", ferr)
		} else if failed != nil {
			payment = failed
		}
		return &InitiateResult{Payment: payment}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider rejected checkout")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if locked == nil {
			return ErrNotFound
		}
		token := material.Token
		locked.GatewayToken = &token
		raw, err := MergeRaw(locked.Gateway, locked.GatewayData, material.Data)
		if err != nil {
			return err
		}
		locked.GatewayData = raw
		if err := repo.Save(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store checkout token")
		}
		payment = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.info(ctx, "payment.checkout_opened")
	return &InitiateResult{Payment: payment, Checkout: material}, nil
}

func (s *Service) openCheckout(ctx context.Context, gw Gateway, req CheckoutRequest) (*CheckoutMaterial, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	material, err := gw.Checkout(cctx, req)
	if err != nil {
		return nil, err
	}
	if material == nil || material.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no checkout token")
	}
	return material, nil
}

// HandleCallback verifies a provider callback and settles or fails the
// payment it names. Verification runs before any database work. A provider
// timeout leaves the payment pending for a later retry.
func (s *Service) HandleCallback(ctx context.Context, gateway enums.Gateway, cb Callback) (*CallbackResult, error) {
	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, s.timeout)
	v, err := gw.Verify(vctx, cb)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationFailed):
			s.recordCallback(gateway, "rejected")
			token := cb.Token
			if v != nil && v.Token != "" {
				token = v.Token
			}
			return s.failUnverified(ctx, gateway, token, err)
		case isUnavailable(err):
			s.recordCallback(gateway, "unavailable")
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrProviderUnavailable, err.Error())
		default:
			s.recordCallback(gateway, "error")
			return nil, err
		}
	}
	if v.Outcome == OutcomeIgnored {
		s.recordCallback(gateway, "ignored")
		return &CallbackResult{}, nil
	}

	payment, err := s.repo.FindByGatewayToken(ctx, gateway, v.Token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		s.recordCallback(gateway, "unknown")
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, "no payment for callback token")
	}
	ctx = s.logCtx(ctx, payment)
	if payment.Status.IsTerminal() {
		s.recordCallback(gateway, "replayed")
		return s.result(payment, true), nil
	}

	key := guardID(v)
	seen, err := s.guard.CheckAndMark(ctx, gateway, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "callback guard unavailable")
	}
	if seen {
		s.recordCallback(gateway, "duplicate")
		return s.result(payment, true), nil
	}

	out, err := s.apply(ctx, payment, v)
	if err != nil {
		if derr := s.guard.Delete(ctx, gateway, key); derr != nil {
			s.logError(ctx, "payment.callback_guard_release_failed", derr)
		}
		s.recordCallback(gateway, "error")
		return nil, err
	}
	if v.Outcome == OutcomePending {
		if derr := s.guard.Delete(ctx, gateway, key); derr != nil {
			s.logError(ctx, "payment.callback_guard_release_failed", derr)
		}
	}
	s.recordCallback(gateway, string(v.Outcome))
	return s.result(out, false), nil
}

// apply moves the payment according to a verified outcome.
func (s *Service) apply(ctx context.Context, payment *models.Payment, v *Verification) (*models.Payment, error) {
	switch v.Outcome {
	case OutcomeSucceeded:
		res, err := s.settler.Settle(ctx, payment.ID, SettleRequest{
			GatewayTxnID: v.GatewayTxnID,
			GatewayData:  v.Data,
			Actor:        "system",
		})
		if err != nil {
			return nil, err
		}
		return res.Payment, nil
	case OutcomeDeclined:
		reason := v.Reason
		if reason == "" {
			reason = "declined by gateway"
		}
		return s.settler.Fail(ctx, payment.ID, FailRequest{Reason: reason, Actor: "system", GatewayData: v.Data})
	default:
		return payment, nil
	}
}

func (s *Service) failUnverified(ctx context.Context, gateway enums.Gateway, token string, cause error) (*CallbackResult, error) {
	verr := pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, cause, "gateway verification failed")
	if strings.TrimSpace(token) == "" {
		return nil, verr
	}
	payment, err := s.repo.FindByGatewayToken(ctx, gateway, token)
	if err != nil || payment == nil || payment.Status.IsTerminal() {
		return nil, verr
	}
	ctx = s.logCtx(ctx, payment)
	failed, err := s.settler.Fail(ctx, payment.ID, FailRequest{Reason: "gateway verification failed", Actor: "system"})
	if err != nil {
		s.logError(ctx, "payment.fail_unverified", err)
		return nil, verr
	}
	s.warn(ctx, "payment.verification_failed")
	return s.result(failed, false), verr
}

// Reconcile asks the provider about a pending hosted payment and applies
// the answer. Offline payments are left alone.
func (s *Service) Reconcile(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() || payment.Method.IsOffline() {
		return payment, nil
	}
	if payment.GatewayToken == nil || *payment.GatewayToken == "" {
		// Checkout never returned a link, so the buyer has nothing to pay.
		return s.settler.Fail(ctx, payment.ID, FailRequest{Reason: "checkout was never opened", Actor: "system"})
	}
	gw, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	v, err := gw.Lookup(lctx, payment)
	cancel()
	if err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			return s.settler.Fail(ctx, payment.ID, FailRequest{Reason: "gateway has no record of payment", Actor: "system"})
		}
		if isUnavailable(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrProviderUnavailable, err.Error())
		}
		return nil, err
	}
	return s.apply(s.logCtx(ctx, payment), payment, v)
}

// AttachProof stores the transfer reference and optional receipt for an
// offline payment awaiting review.
func (s *Service) AttachProof(ctx context.Context, input ProofInput) (*models.Payment, error) {
	if err := authz.CanPurchase(input.Actor, input.TenantID); err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(input.Reference)
	if reference == "" && input.Document == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a reference or a proof document is required")
	}
	payment, err := s.load(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.TenantID != input.TenantID {
		return nil, ErrNotFound
	}
	if !payment.Method.IsOffline() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proof only applies to offline payments")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "payment is not pending")
	}

	var (
		object string
		size   int64
	)
	if input.Document != nil {
		if s.proofs == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "proof storage is not configured")
		}
		object = path.Join("proofs", payment.TenantID.String(), payment.ID.String(), uuid.NewString()+path.Ext(input.Filename))
		size, err = s.proofs.Upload(ctx, object, input.ContentType, input.Document)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "upload proof")
		}
	}

	var out *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if locked == nil {
			return ErrNotFound
		}
		if locked.Status != enums.PaymentStatusPending {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "payment is not pending")
		}
		update := ManualData{Reference: reference}
		if reference != "" {
			locked.ProofReference = &reference
		}
		if object != "" {
			locked.ProofObject = &object
			update.ProofContentType = input.ContentType
			update.ProofSize = size
		}
		raw, err := MergeRaw(locked.Gateway, locked.GatewayData, GatewayData{Manual: &update})
		if err != nil {
			return err
		}
		locked.GatewayData = raw
		if err := repo.Save(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store proof")
		}
		out = locked
		return nil
	})
	if err != nil {
		if object != "" {
			if derr := s.proofs.Delete(ctx, object); derr != nil {
				s.logError(ctx, "payment.proof_cleanup_failed", derr)
			}
		}
		return nil, err
	}
	s.info(s.logCtx(ctx, out), "payment.proof_attached")
	return out, nil
}

// Approve settles an offline payment on behalf of a billing admin.
func (s *Service) Approve(ctx context.Context, input ApproveInput) (*SettleResult, error) {
	payment, err := s.load(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanApprovePayment(input.Actor, payment); err != nil {
		return nil, err
	}
	if !payment.Method.IsOffline() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only offline payments are approved manually")
	}
	switch payment.Status {
	case enums.PaymentStatusPending:
	case enums.PaymentStatusCompleted:
		return &SettleResult{Payment: payment, Replayed: true}, nil
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, fmt.Sprintf("cannot approve a %s payment", payment.Status))
	}
	if payment.Method == enums.PaymentMethodBankTransfer && payment.ProofReference == nil && payment.ProofObject == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank transfers need a proof before approval")
	}

	var approvedBy *uuid.UUID
	if input.Actor.UserID != uuid.Nil {
		id := input.Actor.UserID
		approvedBy = &id
	}
	notes := strings.TrimSpace(input.Notes)
	res, err := s.settler.Settle(ctx, payment.ID, SettleRequest{
		GatewayData: GatewayData{Manual: &ManualData{ReviewNotes: notes}},
		ApprovedBy:  approvedBy,
		Actor:       input.Actor.String(),
		Notes:       notes,
	})
	if err != nil {
		return nil, err
	}
	s.info(s.logCtx(ctx, res.Payment), "payment.approved")
	return res, nil
}

// Reject fails an offline payment after review.
func (s *Service) Reject(ctx context.Context, input RejectInput) (*models.Payment, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a rejection reason is required")
	}
	payment, err := s.load(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanApprovePayment(input.Actor, payment); err != nil {
		return nil, err
	}
	if !payment.Method.IsOffline() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only offline payments are rejected manually")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, fmt.Sprintf("cannot reject a %s payment", payment.Status))
	}
	out, err := s.settler.Fail(ctx, payment.ID, FailRequest{
		Reason:      reason,
		Actor:       input.Actor.String(),
		GatewayData: GatewayData{Manual: &ManualData{ReviewNotes: reason}},
	})
	if err != nil {
		return nil, err
	}
	s.info(s.logCtx(ctx, out), "payment.rejected")
	return out, nil
}

// Cancel abandons a pending payment at the tenant's request. The pending
// subscription created for it is cancelled in the same transaction.
func (s *Service) Cancel(ctx context.Context, tenantID, paymentID uuid.UUID, actor authz.Actor) (*models.Payment, error) {
	if err := authz.CanPurchase(actor, tenantID); err != nil {
		return nil, err
	}
	var out *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.LockByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if payment == nil || payment.TenantID != tenantID {
			return ErrNotFound
		}
		if payment.Status != enums.PaymentStatusPending {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, fmt.Sprintf("cannot cancel a %s payment", payment.Status))
		}
		reason := "cancelled by " + actor.String()
		payment.Status = enums.PaymentStatusCancelled
		payment.FailureReason = &reason
		if err := repo.Save(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel payment")
		}
		if payment.SubscriptionID != nil {
			if _, err := s.subs.CancelTx(ctx, tx, *payment.SubscriptionID, "payment cancelled", actor.String()); err != nil {
				return err
			}
		}
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.info(s.logCtx(ctx, out), "payment.cancelled")
	return out, nil
}

// Get returns a payment visible to actor.
func (s *Service) Get(ctx context.Context, actor authz.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanViewTenant(actor, payment.TenantID); err != nil {
		return nil, ErrNotFound
	}
	return payment, nil
}

func (s *Service) ListByTenant(ctx context.Context, actor authz.Actor, tenantID uuid.UUID, limit int) ([]models.Payment, error) {
	if err := authz.CanViewTenant(actor, tenantID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	return rows, nil
}

// ListPending returns payments still pending after olderThan.
func (s *Service) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error) {
	rows, err := s.repo.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending payments")
	}
	return rows, nil
}

// ProofURL returns a short-lived link to the stored receipt.
func (s *Service) ProofURL(ctx context.Context, actor authz.Actor, paymentID uuid.UUID) (string, error) {
	payment, err := s.Get(ctx, actor, paymentID)
	if err != nil {
		return "", err
	}
	if payment.ProofObject == nil || s.proofs == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "payment has no proof document")
	}
	u, err := s.proofs.SignedURL(*payment.ProofObject)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign proof url")
	}
	return u, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, ErrNotFound
	}
	return payment, nil
}

func (s *Service) result(payment *models.Payment, duplicate bool) *CallbackResult {
	out := &CallbackResult{Payment: payment, Status: payment.Status, Duplicate: duplicate}
	base := s.success
	if payment.Status == enums.PaymentStatusFailed || payment.Status == enums.PaymentStatusCancelled {
		base = s.failure
	}
	out.RedirectURL = withQuery(base, payment)
	return out
}

func withQuery(base string, payment *models.Payment) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("payment_id", payment.ID.String())
	q.Set("status", string(payment.Status))
	u.RawQuery = q.Encode()
	return u.String()
}

func isUnavailable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		pkgerrors.IsCode(err, pkgerrors.CodeDependency) ||
		pkgerrors.IsCode(err, pkgerrors.CodeRateLimit)
}

func (s *Service) recordCallback(gateway enums.Gateway, outcome string) {
	if s.metrics != nil {
		s.metrics.Callback(string(gateway), outcome)
	}
}

func (s *Service) logCtx(ctx context.Context, payment *models.Payment) context.Context {
	if s.logg == nil || payment == nil {
		return ctx
	}
	return s.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID.String(),
		"tenant_id":  payment.TenantID.String(),
		"gateway":    string(payment.Gateway),
		"status":     string(payment.Status),
	})
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
