package invoices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

var ErrNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service issues invoices for completed payments.
type Service interface {
	// IssueSaleTx attaches the sale invoice for a completed payment. A second
	// call for the same payment returns the existing invoice.
	IssueSaleTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Invoice, error)
	GetByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Invoice, error)
}

type ServiceParams struct {
	Repo        Repository
	Outbox      eventEmitter
	CompanyName string
	TaxID       string
	Now         func() time.Time
}

type service struct {
	repo    Repository
	outbox  eventEmitter
	company string
	taxID   string
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		outbox:  params.Outbox,
		company: params.CompanyName,
		taxID:   params.TaxID,
		now:     now,
	}, nil
}

func (s *service) IssueSaleTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Invoice, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if payment == nil || payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoices are issued for completed payments only")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindSaleByPayment(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	if existing != nil {
		return existing, nil
	}

	issued := s.now().UTC()
	yearMonth := issued.Format("200601")
	seq, err := repo.NextSequence(ctx, yearMonth)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate invoice number")
	}

	meta, err := json.Marshal(map[string]any{
		"kind":    payment.Kind,
		"method":  payment.Method,
		"gateway": payment.Gateway,
		"buyer":   payment.BuyerName,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode invoice metadata")
	}

	inv := &models.Invoice{
		ID:            uuid.New(),
		PaymentID:     payment.ID,
		TenantID:      payment.TenantID,
		Type:          enums.InvoiceTypeSale,
		InvoiceNumber: FormatNumber(yearMonth, seq),
		IssuedAt:      issued,
		Amount:        payment.Amount,
		CurrencyCode:  payment.CurrencyCode,
		CompanyName:   s.company,
		TaxID:         s.taxID,
		Metadata:      meta,
	}
	if err := repo.Create(ctx, inv); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create invoice")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceIssued,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   inv.ID,
		OccurredAt:    issued,
		Data: payloads.InvoiceIssuedEvent{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			PaymentID:     inv.PaymentID,
			TenantID:      inv.TenantID,
			Type:          inv.Type,
			Amount:        inv.Amount.StringFixed(2),
			Currency:      inv.CurrencyCode,
			IssuedAt:      issued,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue invoice event")
	}
	return inv, nil
}

func (s *service) GetByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error) {
	inv, err := s.repo.FindSaleByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	if inv == nil {
		return nil, ErrNotFound
	}
	return inv, nil
}

func (s *service) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.repo.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list invoices")
	}
	return rows, nil
}

// FormatNumber renders INV-YYYYMM-000001.
func FormatNumber(yearMonth string, seq int64) string {
	return fmt.Sprintf("INV-%s-%06d", yearMonth, seq)
}
