package invoices

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

// Repository persists invoices and the monthly numbering sequence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindSaleByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Invoice, error)
	NextSequence(ctx context.Context, yearMonth string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindSaleByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND type = ?", paymentID, enums.InvoiceTypeSale).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Invoice, error) {
	var rows []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("issued_at DESC, invoice_number DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// NextSequence increments and returns the counter for yearMonth. The row is
// locked for the rest of the caller's transaction, so numbers are gapless
// among committed invoices.
func (r *repository) NextSequence(ctx context.Context, yearMonth string) (int64, error) {
	seed := models.InvoiceSequence{YearMonth: yearMonth}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return 0, err
	}

	var seq models.InvoiceSequence
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year_month = ?", yearMonth).
		First(&seq).Error; err != nil {
		return 0, err
	}

	next := seq.LastValue + 1
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceSequence{}).
		Where("year_month = ?", yearMonth).
		Update("last_value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}
