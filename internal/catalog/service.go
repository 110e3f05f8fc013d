package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbpkg "github.com/angelmondragon/tenant-billing/pkg/db"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

var (
	ErrPlanNotFound    = pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	ErrPackageNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "credit package not found")
	// ErrNotPurchasable is returned for retired catalog entries.
	ErrNotPurchasable = pkgerrors.New(pkgerrors.CodeValidation, "catalog item is not available for purchase")
)

// Service exposes catalog lookups and operator edits.
type Service interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	// PurchasablePlan and PurchasablePackage additionally reject retired entries.
	PurchasablePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	PurchasablePackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error)
	CreatePlan(ctx context.Context, input CreatePlanInput) (*models.Plan, error)
	CreatePackage(ctx context.Context, input CreatePackageInput) (*models.CreditPackage, error)
	RetirePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	RetirePackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	UpdatePlanPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*models.Plan, error)
}

// CreatePlanInput is the operator payload for a new plan.
type CreatePlanInput struct {
	Code           string
	Name           string
	Price          decimal.Decimal
	Currency       string
	BillingCycle   enums.BillingCycle
	MaxSeats       int
	MaxLocations   int
	MaxPeriodUsage int64
	Features       map[string]bool
}

// CreatePackageInput is the operator payload for a new credit package.
type CreatePackageInput struct {
	Code         string
	Name         string
	BaseCredits  int64
	BonusCredits int64
	Price        decimal.Decimal
	Currency     string
}

type service struct {
	repo            Repository
	defaultCurrency string
}

// NewService builds a catalog service.
func NewService(repo Repository, defaultCurrency string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	currency := strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	return &service{repo: repo, defaultCurrency: currency}, nil
}

func (s *service) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.repo.FindPlan(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

func (s *service) GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	pkg, err := s.repo.FindPackage(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credit package")
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}
	return pkg, nil
}

func (s *service) PurchasablePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status != enums.CatalogStatusActive {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrNotPurchasable, "plan is inactive")
	}
	return plan, nil
}

func (s *service) PurchasablePackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	pkg, err := s.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg.Status != enums.CatalogStatusActive {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrNotPurchasable, "credit package is inactive")
	}
	return pkg, nil
}

func (s *service) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	plans, err := s.repo.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list plans")
	}
	return plans, nil
}

func (s *service) ListPackages(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error) {
	pkgs, err := s.repo.ListPackages(ctx, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credit packages")
	}
	return pkgs, nil
}

func (s *service) CreatePlan(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	switch {
	case code == "" || name == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan code and name are required")
	case !input.Price.IsPositive():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan price must be positive")
	case !input.BillingCycle.IsValid():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing cycle %q", input.BillingCycle))
	case input.MaxSeats < 0 || input.MaxLocations < 0 || input.MaxPeriodUsage < 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan limits must not be negative")
	}

	features := input.Features
	if features == nil {
		features = map[string]bool{}
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode plan features")
	}

	plan := &models.Plan{
		ID:             uuid.New(),
		Code:           code,
		Name:           name,
		PriceAmount:    input.Price.Round(2),
		CurrencyCode:   s.currency(input.Currency),
		BillingCycle:   input.BillingCycle,
		MaxSeats:       input.MaxSeats,
		MaxLocations:   input.MaxLocations,
		MaxPeriodUsage: input.MaxPeriodUsage,
		Features:       raw,
		Status:         enums.CatalogStatusActive,
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "plan code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create plan")
	}
	return plan, nil
}

func (s *service) CreatePackage(ctx context.Context, input CreatePackageInput) (*models.CreditPackage, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	switch {
	case code == "" || name == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "package code and name are required")
	case input.BaseCredits <= 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base credits must be positive")
	case input.BonusCredits < 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bonus credits must not be negative")
	case !input.Price.IsPositive():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "package price must be positive")
	}

	pkg := &models.CreditPackage{
		ID:           uuid.New(),
		Code:         code,
		Name:         name,
		BaseCredits:  input.BaseCredits,
		BonusCredits: input.BonusCredits,
		PriceAmount:  input.Price.Round(2),
		CurrencyCode: s.currency(input.Currency),
		Status:       enums.CatalogStatusActive,
	}
	if err := s.repo.CreatePackage(ctx, pkg); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "package code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create credit package")
	}
	return pkg, nil
}

// RetirePlan hides a plan from purchase. Existing subscriptions keep pointing at it.
func (s *service) RetirePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == enums.CatalogStatusRetired {
		return plan, nil
	}
	plan.Status = enums.CatalogStatusRetired
	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "retire plan")
	}
	return plan, nil
}

func (s *service) RetirePackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	pkg, err := s.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg.Status == enums.CatalogStatusRetired {
		return pkg, nil
	}
	pkg.Status = enums.CatalogStatusRetired
	if err := s.repo.UpdatePackage(ctx, pkg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "retire credit package")
	}
	return pkg, nil
}

// UpdatePlanPrice changes the list price for future purchases only.
// Subscriptions carry their own price snapshot.
func (s *service) UpdatePlanPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*models.Plan, error) {
	if !price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan price must be positive")
	}
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	plan.PriceAmount = price.Round(2)
	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update plan price")
	}
	return plan, nil
}

func (s *service) currency(value string) string {
	if c := strings.ToUpper(strings.TrimSpace(value)); c != "" {
		return c
	}
	return s.defaultCurrency
}
