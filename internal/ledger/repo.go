package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
)

var errStaleBalance = errors.New("credit balance version changed")

// Repository manages persistence for balances and their transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockBalance(ctx context.Context, tenantID uuid.UUID) (*models.CreditBalance, error)
	FindBalance(ctx context.Context, tenantID uuid.UUID) (*models.CreditBalance, error)
	SaveBalance(ctx context.Context, balance *models.CreditBalance, expectedVersion int64) error
	AppendTransaction(ctx context.Context, txn *models.CreditTransaction) error
	ListTransactions(ctx context.Context, tenantID uuid.UUID, beforeSequence int64, limit int) ([]models.CreditTransaction, error)
	ReplayTransactions(ctx context.Context, tenantID uuid.UUID) ([]models.CreditTransaction, error)
	FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.CreditTransaction, error)
	ListBalancesBelow(ctx context.Context, threshold int64, limit int) ([]models.CreditBalance, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockBalance creates the tenant's balance row on first use and returns it
// locked FOR UPDATE until the surrounding transaction ends.
func (r *repository) LockBalance(ctx context.Context, tenantID uuid.UUID) (*models.CreditBalance, error) {
	seed := models.CreditBalance{TenantID: tenantID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}

	var balance models.CreditBalance
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) FindBalance(ctx context.Context, tenantID uuid.UUID) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

// SaveBalance writes the new balance only if nobody bumped the version since
// it was read.
func (r *repository) SaveBalance(ctx context.Context, balance *models.CreditBalance, expectedVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("tenant_id = ? AND version = ?", balance.TenantID, expectedVersion).
		Updates(map[string]any{
			"balance":    balance.Balance,
			"sequence":   balance.Sequence,
			"version":    expectedVersion + 1,
			"updated_at": balance.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStaleBalance
	}
	balance.Version = expectedVersion + 1
	return nil
}

func (r *repository) AppendTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// ListTransactions returns newest-first entries with sequence below
// beforeSequence. Zero means from the latest entry.
func (r *repository) ListTransactions(ctx context.Context, tenantID uuid.UUID, beforeSequence int64, limit int) ([]models.CreditTransaction, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if beforeSequence > 0 {
		q = q.Where("sequence < ?", beforeSequence)
	}
	var rows []models.CreditTransaction
	if err := q.Order("sequence DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ReplayTransactions(ctx context.Context, tenantID uuid.UUID) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListBalancesBelow(ctx context.Context, threshold int64, limit int) ([]models.CreditBalance, error) {
	var rows []models.CreditBalance
	if err := r.db.WithContext(ctx).
		Where("balance < ? AND sequence > 0", threshold).
		Order("tenant_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
