package subscriptions

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

// Repository persists subscriptions and their audit history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindActiveByTenant(ctx context.Context, tenantID uuid.UUID, forUpdate bool) (*models.Subscription, error)
	AppendHistory(ctx context.Context, entry *models.SubscriptionHistory) error
	ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.Subscription, error)
	MarkExpiryWarned(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID, forUpdate bool) (*models.Subscription, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ? AND status = ?", tenantID, enums.SubscriptionStatusActive)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.first(q)
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.SubscriptionHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error) {
	var rows []models.SubscriptionHistory
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListExpired returns active subscriptions whose expiry has passed.
func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.SubscriptionStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListExpiringBetween returns active subscriptions expiring in (from, until]
// that have not been warned about their current expiry yet.
func (r *repository) ListExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at <= ?", enums.SubscriptionStatusActive, from, until).
		Where("expiry_warning_sent_at IS NULL").
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkExpiryWarned(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("expiry_warning_sent_at", at).Error
}

func (r *repository) first(q *gorm.DB) (*models.Subscription, error) {
	var sub models.Subscription
	if err := q.First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
