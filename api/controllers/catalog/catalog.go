package catalog

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/api/controllers/actorcontext"
	"github.com/angelmondragon/tenant-billing/api/responses"
	"github.com/angelmondragon/tenant-billing/api/validators"
	catalogsvc "github.com/angelmondragon/tenant-billing/internal/catalog"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

// CatalogService is the slice of the catalog used over HTTP.
type CatalogService interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error)
	CreatePlan(ctx context.Context, input catalogsvc.CreatePlanInput) (*models.Plan, error)
	CreatePackage(ctx context.Context, input catalogsvc.CreatePackageInput) (*models.CreditPackage, error)
	RetirePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	RetirePackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	UpdatePlanPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*models.Plan, error)
}

type planResponse struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	BillingCycle   string          `json:"billing_cycle"`
	MaxSeats       int             `json:"max_seats"`
	MaxLocations   int             `json:"max_locations"`
	MaxPeriodUsage int64           `json:"max_period_usage"`
	Features       map[string]bool `json:"features"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

type packageResponse struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	BaseCredits  int64           `json:"base_credits"`
	BonusCredits int64           `json:"bonus_credits"`
	TotalCredits int64           `json:"total_credits"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

type createPlanRequest struct {
	Code           string          `json:"code" validate:"required,max=64"`
	Name           string          `json:"name" validate:"required,max=128"`
	Price          string          `json:"price" validate:"required"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
	BillingCycle   string          `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	MaxSeats       int             `json:"max_seats" validate:"min=0"`
	MaxLocations   int             `json:"max_locations" validate:"min=0"`
	MaxPeriodUsage int64           `json:"max_period_usage" validate:"min=0"`
	Features       map[string]bool `json:"features"`
}

type createPackageRequest struct {
	Code         string `json:"code" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=128"`
	BaseCredits  int64  `json:"base_credits" validate:"gt=0"`
	BonusCredits int64  `json:"bonus_credits" validate:"min=0"`
	Price        string `json:"price" validate:"required"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
}

type updatePriceRequest struct {
	Price string `json:"price" validate:"required"`
}

func ListPlans(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		if _, err := actorcontext.ResolveActor(r); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plans, err := svc.ListPlans(ctx, true)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]planResponse, 0, len(plans))
		for i := range plans {
			out = append(out, newPlanResponse(&plans[i]))
		}
		responses.WriteSuccess(w, map[string]any{"plans": out})
	}
}

func ListPackages(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		if _, err := actorcontext.ResolveActor(r); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		pkgs, err := svc.ListPackages(ctx, true)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]packageResponse, 0, len(pkgs))
		for i := range pkgs {
			out = append(out, newPackageResponse(&pkgs[i]))
		}
		responses.WriteSuccess(w, map[string]any{"packages": out})
	}
}

func AdminCreatePlan(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		var payload createPlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		price, err := parsePrice(payload.Price)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := svc.CreatePlan(ctx, catalogsvc.CreatePlanInput{
			Code:           validators.SanitizeString(payload.Code, 64),
			Name:           validators.SanitizeString(payload.Name, 128),
			Price:          price,
			Currency:       payload.Currency,
			BillingCycle:   enums.BillingCycle(payload.BillingCycle),
			MaxSeats:       payload.MaxSeats,
			MaxLocations:   payload.MaxLocations,
			MaxPeriodUsage: payload.MaxPeriodUsage,
			Features:       payload.Features,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlanResponse(plan))
	}
}

func AdminCreatePackage(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		var payload createPackageRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		price, err := parsePrice(payload.Price)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		pkg, err := svc.CreatePackage(ctx, catalogsvc.CreatePackageInput{
			Code:         validators.SanitizeString(payload.Code, 64),
			Name:         validators.SanitizeString(payload.Name, 128),
			BaseCredits:  payload.BaseCredits,
			BonusCredits: payload.BonusCredits,
			Price:        price,
			Currency:     payload.Currency,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPackageResponse(pkg))
	}
}

func AdminRetirePlan(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := svc.RetirePlan(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

func AdminRetirePackage(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		pkg, err := svc.RetirePackage(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPackageResponse(pkg))
	}
}

// AdminUpdatePlanPrice changes the list price. Existing subscriptions keep
// the price they were sold at.
func AdminUpdatePlanPrice(svc CatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload updatePriceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		price, err := parsePrice(payload.Price)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := svc.UpdatePlanPrice(ctx, id, price)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "price must be a decimal string")
	}
	if !price.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	return price, nil
}

func newPlanResponse(p *models.Plan) planResponse {
	return planResponse{
		ID:             p.ID,
		Code:           p.Code,
		Name:           p.Name,
		Price:          p.PriceAmount,
		Currency:       p.CurrencyCode,
		BillingCycle:   string(p.BillingCycle),
		MaxSeats:       p.MaxSeats,
		MaxLocations:   p.MaxLocations,
		MaxPeriodUsage: p.MaxPeriodUsage,
		Features:       p.FeatureSet(),
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
	}
}

func newPackageResponse(p *models.CreditPackage) packageResponse {
	return packageResponse{
		ID:           p.ID,
		Code:         p.Code,
		Name:         p.Name,
		BaseCredits:  p.BaseCredits,
		BonusCredits: p.BonusCredits,
		TotalCredits: p.TotalCredits(),
		Price:        p.PriceAmount,
		Currency:     p.CurrencyCode,
		Status:       string(p.Status),
		CreatedAt:    p.CreatedAt,
	}
}
