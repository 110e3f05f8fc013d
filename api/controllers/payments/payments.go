package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/api/controllers/actorcontext"
	"github.com/angelmondragon/tenant-billing/api/responses"
	"github.com/angelmondragon/tenant-billing/api/validators"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	paymentsvc "github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const maxProofBytes = 10 << 20

// PaymentService is the tenant-facing payment surface.
type PaymentService interface {
	Initiate(ctx context.Context, input paymentsvc.InitiateInput) (*paymentsvc.InitiateResult, error)
	AttachProof(ctx context.Context, input paymentsvc.ProofInput) (*models.Payment, error)
	Cancel(ctx context.Context, tenantID, paymentID uuid.UUID, actor authz.Actor) (*models.Payment, error)
	Get(ctx context.Context, actor authz.Actor, paymentID uuid.UUID) (*models.Payment, error)
	ListByTenant(ctx context.Context, actor authz.Actor, tenantID uuid.UUID, limit int) ([]models.Payment, error)
}

type buyerRequest struct {
	Name  string `json:"name" validate:"max=128"`
	Email string `json:"email" validate:"omitempty,email"`
}

type purchaseRequest struct {
	PlanID         *uuid.UUID   `json:"plan_id"`
	PackageID      *uuid.UUID   `json:"package_id"`
	Method         string       `json:"method" validate:"required,oneof=hosted_gateway bank_transfer cash"`
	Gateway        string       `json:"gateway" validate:"omitempty,oneof=square stripe"`
	Buyer          buyerRequest `json:"buyer"`
	DurationMonths int          `json:"duration_months" validate:"min=0,max=36"`
	Notes          string       `json:"notes" validate:"max=500"`
}

type purchaseResponse struct {
	PaymentID uuid.UUID                    `json:"payment_id"`
	Status    string                       `json:"status"`
	Amount    decimal.Decimal              `json:"amount"`
	Currency  string                       `json:"currency"`
	Checkout  *paymentsvc.CheckoutMaterial `json:"checkout,omitempty"`
}

type paymentResponse struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Kind            string          `json:"kind"`
	Method          string          `json:"method"`
	Gateway         string          `json:"gateway"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PlanID          *uuid.UUID      `json:"plan_id,omitempty"`
	CreditPackageID *uuid.UUID      `json:"credit_package_id,omitempty"`
	SubscriptionID  *uuid.UUID      `json:"subscription_id,omitempty"`
	ProofReference  *string         `json:"proof_reference,omitempty"`
	HasProof        bool            `json:"has_proof"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Purchase starts a plan or credit package purchase for the caller's tenant.
func Purchase(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if (payload.PlanID == nil) == (payload.PackageID == nil) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of plan_id or package_id is required"))
			return
		}
		result, err := svc.Initiate(ctx, paymentsvc.InitiateInput{
			TenantID:  tenantID,
			PlanID:    payload.PlanID,
			PackageID: payload.PackageID,
			Method:    enums.PaymentMethod(payload.Method),
			Gateway:   enums.Gateway(payload.Gateway),
			Buyer: paymentsvc.Buyer{
				Name:  validators.SanitizeString(payload.Buyer.Name, 128),
				Email: strings.TrimSpace(payload.Buyer.Email),
			},
			DurationMonths: payload.DurationMonths,
			Notes:          validators.SanitizeString(payload.Notes, 500),
			Actor:          actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, purchaseResponse{
			PaymentID: result.Payment.ID,
			Status:    string(result.Payment.Status),
			Amount:    result.Payment.Amount,
			Currency:  result.Payment.CurrencyCode,
			Checkout:  result.Checkout,
		})
	}
}

func PaymentGet(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payment, err := svc.Get(ctx, actor, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

func PaymentList(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 25, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		rows, err := svc.ListByTenant(ctx, actor, tenantID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]paymentResponse, 0, len(rows))
		for i := range rows {
			out = append(out, newPaymentResponse(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"payments": out})
	}
}

func PaymentCancel(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payment, err := svc.Cancel(ctx, tenantID, id, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// PaymentProof accepts a multipart upload with an optional "reference" field
// and an optional "document" file. At least one of them must be present.
func PaymentProof(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxProofBytes)
		if err := r.ParseMultipartForm(maxProofBytes); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid proof upload"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		input := paymentsvc.ProofInput{
			TenantID:  tenantID,
			PaymentID: id,
			Reference: validators.SanitizeString(r.FormValue("reference"), 128),
			Actor:     actor,
		}
		file, header, err := r.FormFile("document")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid proof document"))
			return
		default:
			defer file.Close()
			input.Document = file
			input.Filename = header.Filename
			input.ContentType = header.Header.Get("Content-Type")
		}

		payment, err := svc.AttachProof(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

func newPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		ID:              p.ID,
		TenantID:        p.TenantID,
		Kind:            string(p.Kind),
		Method:          string(p.Method),
		Gateway:         string(p.Gateway),
		Status:          string(p.Status),
		Amount:          p.Amount,
		Currency:        p.CurrencyCode,
		PlanID:          p.PlanID,
		CreditPackageID: p.CreditPackageID,
		SubscriptionID:  p.SubscriptionID,
		ProofReference:  p.ProofReference,
		HasProof:        p.ProofObject != nil,
		FailureReason:   p.FailureReason,
		ApprovedAt:      p.ApprovedAt,
		CompletedAt:     p.CompletedAt,
		CreatedAt:       p.CreatedAt,
	}
}
