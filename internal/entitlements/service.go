// Package entitlements answers "may this tenant do X" for the product layer:
// plan feature flags, plan limits and metered credit consumption.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/internal/ledger"
	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

// Limit names a plan quota.
type Limit string

const (
	LimitSeats       Limit = "seats"
	LimitLocations   Limit = "locations"
	LimitPeriodUsage Limit = "period_usage"
)

var ErrLimitReached = pkgerrors.New(pkgerrors.CodeForbidden, "plan limit reached")

type planSource interface {
	Current(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, *models.Plan, error)
}

type debiter interface {
	Debit(ctx context.Context, input ledger.DebitInput) (ledger.Result, error)
}

type Service struct {
	plans  planSource
	ledger debiter
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(plans planSource, ledgerSvc debiter, logg *logger.Logger) (*Service, error) {
	if plans == nil {
		return nil, fmt.Errorf("subscription source required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &Service{plans: plans, ledger: ledgerSvc, logg: logg, now: time.Now}, nil
}

// HasFeature reports whether the tenant's active plan enables feature. A
// tenant without an active subscription has no features.
func (s *Service) HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	plan, err := s.activePlan(ctx, tenantID)
	if err != nil || plan == nil {
		return false, err
	}
	return plan.HasFeature(strings.TrimSpace(feature)), nil
}

// Consume debits units for a metered action. ledger.ErrInsufficientCredit
// means the action must not be performed.
func (s *Service) Consume(ctx context.Context, tenantID uuid.UUID, units int64, description, actor string) (ledger.Result, error) {
	res, err := s.ledger.Debit(ctx, ledger.DebitInput{
		TenantID:    tenantID,
		Amount:      units,
		Description: description,
		Actor:       actor,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) && s.logg != nil {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"tenant_id": tenantID.String(),
				"units":     units,
			}), "entitlements.consume_denied")
		}
		return ledger.Result{}, err
	}
	return res, nil
}

// CheckLimit returns ErrLimitReached when adding one more unit on top of
// current would exceed the plan quota. A zero quota is unlimited.
func (s *Service) CheckLimit(ctx context.Context, tenantID uuid.UUID, limit Limit, current int64) error {
	plan, err := s.activePlan(ctx, tenantID)
	if err != nil {
		return err
	}
	if plan == nil {
		return pkgerrors.Wrap(pkgerrors.CodeForbidden, subscriptions.ErrNoActiveSubscription, "no active subscription")
	}

	var max int64
	switch limit {
	case LimitSeats:
		max = int64(plan.MaxSeats)
	case LimitLocations:
		max = int64(plan.MaxLocations)
	case LimitPeriodUsage:
		max = plan.MaxPeriodUsage
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown limit %q", limit))
	}
	if max > 0 && current >= max {
		return pkgerrors.Wrap(pkgerrors.CodeForbidden, ErrLimitReached, fmt.Sprintf("%s limit of %d reached", limit, max)).
			WithDetails(map[string]any{"limit": limit, "max": max, "current": current})
	}
	return nil
}

func (s *Service) activePlan(ctx context.Context, tenantID uuid.UUID) (*models.Plan, error) {
	sub, plan, err := s.plans.Current(ctx, tenantID)
	if err != nil {
		if errors.Is(err, subscriptions.ErrNoActiveSubscription) {
			return nil, nil
		}
		return nil, err
	}
	// A lapsed subscription grants nothing even before the sweep expires it.
	if sub != nil && sub.ExpiresAt != nil && sub.ExpiresAt.Before(s.now()) {
		return nil, nil
	}
	return plan, nil
}
