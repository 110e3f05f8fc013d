package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Repository persists payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	Save(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByGatewayToken(ctx context.Context, gateway enums.Gateway, token string) (*models.Payment, error)
	FindByGatewayTxnID(ctx context.Context, txnID string) (*models.Payment, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) Save(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// LockByID loads the payment row FOR UPDATE. Callers must be inside a transaction.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindByGatewayToken(ctx context.Context, gateway enums.Gateway, token string) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("gateway = ? AND gateway_token = ?", gateway, token))
}

func (r *repository) FindByGatewayTxnID(ctx context.Context, txnID string) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("gateway_txn_id = ?", txnID))
}

func (r *repository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) first(q *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	if err := q.First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}
