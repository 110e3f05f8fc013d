package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenant-billing/internal/catalog"
	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

const (
	ReasonCreated      = "created"
	ReasonActivated    = "activated"
	ReasonRenewed      = "renewed"
	ReasonExpired      = "system: subscription expired"
	ReasonPlanChanged  = "plan changed"
	ReasonMergedRenew  = "merged into renewal of active subscription"
	ReasonReplacedPlan = "replaced by new plan purchase"
)

// Outcome reports which effect ActivateOrRenew applied.
type Outcome string

const (
	OutcomeActivated Outcome = "activated"
	OutcomeRenewed   Outcome = "renewed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// Service drives the subscription state machine. Every status or plan change
// appends a SubscriptionHistory row in the same transaction.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Subscription, error)
	CreateTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Subscription, error)
	Activate(ctx context.Context, subscriptionID uuid.UUID, actor string) (*models.Subscription, error)
	Renew(ctx context.Context, subscriptionID uuid.UUID, actor string) (*models.Subscription, error)
	Expire(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	Cancel(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	// CancelTx cancels inside the caller's transaction and skips terminal subscriptions.
	CancelTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	Suspend(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	// ActivateOrRenew applies a paid subscription purchase inside the caller's transaction.
	ActivateOrRenew(ctx context.Context, tx *gorm.DB, tenantID, subscriptionID uuid.UUID, actor string) (*models.Subscription, Outcome, error)
	ChangePlan(ctx context.Context, subscriptionID, planID uuid.UUID, reason, actor string) (*models.Subscription, error)
	Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	Current(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, *models.Plan, error)
	History(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListExpiringWithin(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]models.Subscription, error)
	NotifyExpiring(ctx context.Context, subscriptionID uuid.UUID) (bool, error)
}

// CreateInput captures a new pending subscription.
type CreateInput struct {
	TenantID       uuid.UUID
	PlanID         uuid.UUID
	DurationMonths int
	Notes          string
	Discount       decimal.Decimal
	Actor          string
}

type ServiceParams struct {
	Repo   Repository
	Plans  catalog.Repository
	Tx     txRunner
	Outbox eventEmitter
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	plans  catalog.Repository
	tx     txRunner
	outbox eventEmitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		plans:  params.Plans,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, error) {
	var created *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = s.CreateTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateTx records a pending subscription with a price snapshot of the plan.
func (s *service) CreateTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Subscription, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.DurationMonths < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration must not be negative")
	}
	if input.Discount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount must not be negative")
	}

	plan, err := s.loadPlan(ctx, tx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status != enums.CatalogStatusActive {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, catalog.ErrNotPurchasable, "plan is inactive")
	}

	duration := normalizeDuration(plan.BillingCycle, input.DurationMonths)
	original := plan.PriceAmount.Mul(decimal.NewFromInt(int64(cyclesFor(plan.BillingCycle, duration))))
	discounted := original.Sub(input.Discount)
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	sub := &models.Subscription{
		ID:              uuid.New(),
		TenantID:        input.TenantID,
		PlanID:          plan.ID,
		Status:          enums.SubscriptionStatusPending,
		DurationMonths:  duration,
		OriginalPrice:   original.Round(2),
		DiscountedPrice: discounted.Round(2),
		CurrencyCode:    plan.CurrencyCode,
		Notes:           strings.TrimSpace(input.Notes),
	}
	repo := s.repo.WithTx(tx)
	if err := repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
	}
	if err := s.appendHistory(ctx, repo, sub, nil, "", ReasonCreated, input.Actor); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *service) Activate(ctx context.Context, subscriptionID uuid.UUID, actor string) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.lock(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		out, err = s.activateLocked(ctx, tx, sub, nil, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Renew(ctx context.Context, subscriptionID uuid.UUID, actor string) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.lock(ctx, s.repo.WithTx(tx), subscriptionID)
		if err != nil {
			return err
		}
		out, err = s.renewLocked(ctx, tx, sub, 1, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Expire(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonExpired
	}
	return s.transition(ctx, subscriptionID, enums.SubscriptionStatusExpired, reason, actor)
}

func (s *service) Cancel(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error) {
	return s.transition(ctx, subscriptionID, enums.SubscriptionStatusCancelled, reason, actor)
}

// CancelTx cancels a subscription inside the caller's transaction. A
// subscription that is already cancelled or expired is returned unchanged.
func (s *service) CancelTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	sub, err := s.lock(ctx, s.repo.WithTx(tx), subscriptionID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case enums.SubscriptionStatusCancelled, enums.SubscriptionStatusExpired:
		return sub, nil
	}
	if err := s.transitionLocked(ctx, tx, sub, enums.SubscriptionStatusCancelled, reason, actor); err != nil {
		return nil, err
	}
	s.logTransition(ctx, sub, reason)
	return sub, nil
}

func (s *service) Suspend(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error) {
	return s.transition(ctx, subscriptionID, enums.SubscriptionStatusSuspended, reason, actor)
}

func (s *service) ActivateOrRenew(ctx context.Context, tx *gorm.DB, tenantID, subscriptionID uuid.UUID, actor string) (*models.Subscription, Outcome, error) {
	if tx == nil {
		return nil, "", fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	target, err := s.lock(ctx, repo, subscriptionID)
	if err != nil {
		return nil, "", err
	}
	if target.TenantID != tenantID {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "subscription belongs to another tenant")
	}

	switch target.Status {
	case enums.SubscriptionStatusActive:
		out, err := s.renewLocked(ctx, tx, target, 1, actor)
		return out, OutcomeRenewed, err
	case enums.SubscriptionStatusPending:
	default:
		return nil, "", s.invalidTransition(target.Status, enums.SubscriptionStatusActive)
	}

	active, err := repo.FindActiveByTenant(ctx, tenantID, true)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active subscription")
	}
	if active == nil {
		out, err := s.activateLocked(ctx, tx, target, nil, actor)
		return out, OutcomeActivated, err
	}

	if active.PlanID == target.PlanID {
		plan, err := s.loadPlan(ctx, tx, active.PlanID)
		if err != nil {
			return nil, "", err
		}
		out, err := s.renewLocked(ctx, tx, active, cyclesFor(plan.BillingCycle, target.DurationMonths), actor)
		if err != nil {
			return nil, "", err
		}
		if err := s.setStatus(ctx, repo, target, enums.SubscriptionStatusCancelled, ReasonMergedRenew, actor); err != nil {
			return nil, "", err
		}
		return out, OutcomeRenewed, nil
	}

	if err := s.setStatus(ctx, repo, active, enums.SubscriptionStatusCancelled, ReasonReplacedPlan, actor); err != nil {
		return nil, "", err
	}
	previous := active.PlanID
	out, err := s.activateLocked(ctx, tx, target, &previous, actor)
	return out, OutcomeActivated, err
}

// ChangePlan moves an active subscription to another plan without touching
// its expiry. The price snapshot follows the new plan from now on.
func (s *service) ChangePlan(ctx context.Context, subscriptionID, planID uuid.UUID, reason, actor string) (*models.Subscription, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonPlanChanged
	}
	var out *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.lock(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive {
			return s.invalidTransition(sub.Status, sub.Status)
		}
		if sub.PlanID == planID {
			out = sub
			return nil
		}
		plan, err := s.loadPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if plan.Status != enums.CatalogStatusActive {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, catalog.ErrNotPurchasable, "plan is inactive")
		}

		oldPlan := sub.PlanID
		price := plan.PriceAmount.Mul(decimal.NewFromInt(int64(cyclesFor(plan.BillingCycle, sub.DurationMonths))))
		sub.PlanID = plan.ID
		sub.OriginalPrice = price.Round(2)
		sub.DiscountedPrice = price.Round(2)
		sub.CurrencyCode = plan.CurrencyCode
		if err := repo.Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "change subscription plan")
		}
		if err := s.appendHistory(ctx, repo, sub, &oldPlan, sub.Status, reason, actor); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (s *service) Current(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, *models.Plan, error) {
	sub, err := s.repo.FindActiveByTenant(ctx, tenantID, false)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active subscription")
	}
	// Status lags expiry until the sweep runs.
	if sub == nil || (sub.ExpiresAt != nil && sub.ExpiresAt.Before(s.now().UTC())) {
		return nil, nil, ErrNoActiveSubscription
	}
	plan, err := s.plans.FindPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return nil, nil, catalog.ErrPlanNotFound
	}
	return sub, plan, nil
}

func (s *service) History(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error) {
	rows, err := s.repo.ListHistory(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscription history")
	}
	return rows, nil
}

func (s *service) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return s.repo.ListExpired(ctx, now.UTC(), limit)
}

func (s *service) ListExpiringWithin(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]models.Subscription, error) {
	now = now.UTC()
	return s.repo.ListExpiringBetween(ctx, now, now.Add(lead), limit)
}

// NotifyExpiring queues one subscription.expiring event per subscription and
// expiry date, then marks the subscription warned.
func (s *service) NotifyExpiring(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	var emitted bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := s.lock(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive || sub.ExpiresAt == nil || sub.ExpiryWarningSent != nil {
			return nil
		}
		emitted, err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionExpiring,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         systemActor(sub.TenantID),
			DedupKey:      fmt.Sprintf("%s:%s:%d", enums.EventSubscriptionExpiring, sub.ID, sub.ExpiresAt.Unix()),
			OccurredAt:    s.now().UTC(),
			Data: payloads.SubscriptionExpiringEvent{
				SubscriptionID: sub.ID,
				TenantID:       sub.TenantID,
				PlanID:         sub.PlanID,
				ExpiresAt:      *sub.ExpiresAt,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue expiry warning")
		}
		return repo.MarkExpiryWarned(ctx, sub.ID, s.now().UTC())
	})
	return emitted, err
}

func (s *service) transition(ctx context.Context, subscriptionID uuid.UUID, next enums.SubscriptionStatus, reason, actor string) (*models.Subscription, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	var out *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.lock(ctx, s.repo.WithTx(tx), subscriptionID)
		if err != nil {
			return err
		}
		if err := s.transitionLocked(ctx, tx, sub, next, reason, actor); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, out, reason)
	return out, nil
}

func (s *service) transitionLocked(ctx context.Context, tx *gorm.DB, sub *models.Subscription, next enums.SubscriptionStatus, reason, actor string) error {
	if !sub.Status.CanTransitionTo(next) {
		return s.invalidTransition(sub.Status, next)
	}
	if err := s.setStatus(ctx, s.repo.WithTx(tx), sub, next, reason, actor); err != nil {
		return err
	}
	if next == enums.SubscriptionStatusExpired {
		return s.emitChange(ctx, tx, enums.EventSubscriptionExpired, sub, reason)
	}
	return nil
}

func (s *service) logTransition(ctx context.Context, sub *models.Subscription, reason string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID.String(),
		"tenant_id":       sub.TenantID.String(),
		"status":          sub.Status,
		"reason":          reason,
	})
	s.logg.Info(logCtx, "subscription status changed")
}

// activateLocked moves a locked pending subscription to active and computes
// its period from now.
func (s *service) activateLocked(ctx context.Context, tx *gorm.DB, sub *models.Subscription, previousPlan *uuid.UUID, actor string) (*models.Subscription, error) {
	if !sub.Status.CanTransitionTo(enums.SubscriptionStatusActive) {
		return nil, s.invalidTransition(sub.Status, enums.SubscriptionStatusActive)
	}
	repo := s.repo.WithTx(tx)
	active, err := repo.FindActiveByTenant(ctx, sub.TenantID, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active subscription")
	}
	if active != nil && active.ID != sub.ID {
		return nil, ErrActiveExists
	}

	plan, err := s.loadPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expires := plan.BillingCycle.Advance(now, cyclesFor(plan.BillingCycle, sub.DurationMonths))
	oldStatus := sub.Status
	sub.Status = enums.SubscriptionStatusActive
	sub.StartedAt = &now
	sub.ExpiresAt = &expires
	sub.ExpiryWarningSent = nil
	if err := repo.Save(ctx, sub); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, ErrActiveExists
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate subscription")
	}

	if err := s.appendHistory(ctx, repo, sub, previousPlan, oldStatus, ReasonActivated, actor); err != nil {
		return nil, err
	}
	if err := s.emitChange(ctx, tx, enums.EventSubscriptionActivated, sub, ReasonActivated); err != nil {
		return nil, err
	}
	return sub, nil
}

// renewLocked extends an active subscription from its current expiry, so
// time already paid for is kept.
func (s *service) renewLocked(ctx context.Context, tx *gorm.DB, sub *models.Subscription, cycles int, actor string) (*models.Subscription, error) {
	if sub.Status != enums.SubscriptionStatusActive {
		return nil, s.invalidTransition(sub.Status, enums.SubscriptionStatusActive)
	}
	plan, err := s.loadPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	base := now
	if sub.ExpiresAt != nil && sub.ExpiresAt.After(now) {
		base = sub.ExpiresAt.UTC()
	}
	expires := plan.BillingCycle.Advance(base, cycles)
	sub.ExpiresAt = &expires
	sub.ExpiryWarningSent = nil

	repo := s.repo.WithTx(tx)
	if err := repo.Save(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "renew subscription")
	}
	if err := s.appendHistory(ctx, repo, sub, nil, sub.Status, ReasonRenewed, actor); err != nil {
		return nil, err
	}
	if err := s.emitChange(ctx, tx, enums.EventSubscriptionRenewed, sub, ReasonRenewed); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *service) setStatus(ctx context.Context, repo Repository, sub *models.Subscription, next enums.SubscriptionStatus, reason, actor string) error {
	old := sub.Status
	sub.Status = next
	if err := repo.Save(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription status")
	}
	return s.appendHistory(ctx, repo, sub, nil, old, reason, actor)
}

func (s *service) appendHistory(ctx context.Context, repo Repository, sub *models.Subscription, oldPlan *uuid.UUID, oldStatus enums.SubscriptionStatus, reason, actor string) error {
	entry := &models.SubscriptionHistory{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		OldPlanID:      oldPlan,
		NewPlanID:      sub.PlanID,
		OldStatus:      oldStatus,
		NewStatus:      sub.Status,
		Reason:         reason,
		Actor:          actor,
		CreatedAt:      s.now().UTC(),
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record subscription history")
	}
	return nil
}

func (s *service) emitChange(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.Subscription, reason string) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         systemActor(sub.TenantID),
		OccurredAt:    s.now().UTC(),
		Data: payloads.SubscriptionChangedEvent{
			SubscriptionID: sub.ID,
			TenantID:       sub.TenantID,
			PlanID:         sub.PlanID,
			Status:         sub.Status,
			ExpiresAt:      sub.ExpiresAt,
			Reason:         reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue subscription event")
	}
	return nil
}

func (s *service) lock(ctx context.Context, repo Repository, id uuid.UUID) (*models.Subscription, error) {
	sub, err := repo.LockByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock subscription")
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (s *service) loadPlan(ctx context.Context, tx *gorm.DB, planID uuid.UUID) (*models.Plan, error) {
	plan, err := s.plans.WithTx(tx).FindPlan(ctx, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return nil, catalog.ErrPlanNotFound
	}
	return plan, nil
}

func (s *service) invalidTransition(from, to enums.SubscriptionStatus) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "invalid subscription state transition").
		WithDetails(map[string]any{"from": from, "to": to})
}

func systemActor(tenantID uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{TenantID: &tenantID, Role: string(enums.ActorRoleSystem)}
}

// normalizeDuration defaults the purchased duration to one cycle.
func normalizeDuration(cycle enums.BillingCycle, months int) int {
	if months > 0 {
		return months
	}
	if cycle == enums.BillingCycleYearly {
		return 12
	}
	return 1
}

// cyclesFor converts a duration in months into whole plan cycles, rounding up.
func cyclesFor(cycle enums.BillingCycle, months int) int {
	if months <= 0 {
		return 1
	}
	if cycle == enums.BillingCycleYearly {
		return (months + 11) / 12
	}
	return months
}
