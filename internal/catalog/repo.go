package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Repository persists plans and credit packages.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePlan(ctx context.Context, plan *models.Plan) error
	UpdatePlan(ctx context.Context, plan *models.Plan) error
	FindPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	CreatePackage(ctx context.Context, pkg *models.CreditPackage) error
	UpdatePackage(ctx context.Context, pkg *models.CreditPackage) error
	FindPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *repository) FindPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	query := r.db.WithContext(ctx).Model(&models.Plan{})
	if activeOnly {
		query = query.Where("status = ?", enums.CatalogStatusActive)
	}
	var plans []models.Plan
	if err := query.Order("name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) CreatePackage(ctx context.Context, pkg *models.CreditPackage) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *repository) UpdatePackage(ctx context.Context, pkg *models.CreditPackage) error {
	return r.db.WithContext(ctx).Save(pkg).Error
}

func (r *repository) FindPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *repository) ListPackages(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error) {
	query := r.db.WithContext(ctx).Model(&models.CreditPackage{})
	if activeOnly {
		query = query.Where("status = ?", enums.CatalogStatusActive)
	}
	var pkgs []models.CreditPackage
	if err := query.Order("base_credits ASC, name ASC").Find(&pkgs).Error; err != nil {
		return nil, err
	}
	return pkgs, nil
}
