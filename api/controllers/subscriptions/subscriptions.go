package subscriptions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/api/controllers/actorcontext"
	"github.com/angelmondragon/tenant-billing/api/responses"
	"github.com/angelmondragon/tenant-billing/api/validators"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	subsvc "github.com/angelmondragon/tenant-billing/internal/subscriptions"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

// SubscriptionService is the subscription surface used over HTTP.
type SubscriptionService interface {
	Current(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, *models.Plan, error)
	Cancel(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	Suspend(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	History(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error)
}

// FeatureChecker answers plan feature questions for a tenant.
type FeatureChecker interface {
	HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error)
}

type subscriptionResponse struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	PlanID          uuid.UUID       `json:"plan_id"`
	PlanCode        string          `json:"plan_code,omitempty"`
	PlanName        string          `json:"plan_name,omitempty"`
	Status          string          `json:"status"`
	DurationMonths  int             `json:"duration_months"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Currency        string          `json:"currency"`
	Features        map[string]bool `json:"features,omitempty"`
}

type historyResponse struct {
	OldPlanID *uuid.UUID `json:"old_plan_id,omitempty"`
	NewPlanID uuid.UUID  `json:"new_plan_id"`
	OldStatus string     `json:"old_status,omitempty"`
	NewStatus string     `json:"new_status"`
	Reason    string     `json:"reason"`
	Actor     string     `json:"actor,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type transitionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Current returns the tenant's active subscription with its plan, or null.
func Current(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := authz.CanViewTenant(actor, tenantID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, plan, err := svc.Current(ctx, tenantID)
		if errors.Is(err, subsvc.ErrNoActiveSubscription) {
			responses.WriteSuccess(w, nil)
			return
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub, plan))
	}
}

func FeatureCheck(svc FeatureChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		_, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		feature := strings.TrimSpace(chi.URLParam(r, "name"))
		if feature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "feature name is required"))
			return
		}
		enabled, err := svc.HasFeature(ctx, tenantID, feature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"feature": feature, "enabled": enabled})
	}
}

func AdminCancel(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return adminTransition(logg, svc.Cancel)
}

func AdminSuspend(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return adminTransition(logg, svc.Suspend)
}

type transitionFunc func(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)

func adminTransition(logg *logger.Logger, apply transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := authz.CanAdministerBilling(actor); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, err := apply(ctx, id, validators.SanitizeString(payload.Reason, 500), actor.String())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub, nil))
	}
}

func AdminHistory(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		rows, err := svc.History(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]historyResponse, 0, len(rows))
		for _, h := range rows {
			out = append(out, historyResponse{
				OldPlanID: h.OldPlanID,
				NewPlanID: h.NewPlanID,
				OldStatus: string(h.OldStatus),
				NewStatus: string(h.NewStatus),
				Reason:    h.Reason,
				Actor:     h.Actor,
				CreatedAt: h.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"history": out})
	}
}

func newSubscriptionResponse(sub *models.Subscription, plan *models.Plan) subscriptionResponse {
	out := subscriptionResponse{
		ID:              sub.ID,
		TenantID:        sub.TenantID,
		PlanID:          sub.PlanID,
		Status:          string(sub.Status),
		DurationMonths:  sub.DurationMonths,
		StartedAt:       sub.StartedAt,
		ExpiresAt:       sub.ExpiresAt,
		OriginalPrice:   sub.OriginalPrice,
		DiscountedPrice: sub.DiscountedPrice,
		Currency:        sub.CurrencyCode,
	}
	if plan != nil {
		out.PlanCode = plan.Code
		out.PlanName = plan.Name
		out.Features = plan.FeatureSet()
	}
	return out
}
