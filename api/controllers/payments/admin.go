package payments

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/api/controllers/actorcontext"
	"github.com/angelmondragon/tenant-billing/api/responses"
	"github.com/angelmondragon/tenant-billing/api/validators"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	paymentsvc "github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

// ReviewService covers operator review of offline payments.
type ReviewService interface {
	Approve(ctx context.Context, input paymentsvc.ApproveInput) (*paymentsvc.SettleResult, error)
	Reject(ctx context.Context, input paymentsvc.RejectInput) (*models.Payment, error)
	ProofURL(ctx context.Context, actor authz.Actor, paymentID uuid.UUID) (string, error)
}

type approveRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type approveResponse struct {
	Payment        paymentResponse `json:"payment"`
	Replayed       bool            `json:"replayed"`
	CreditsAdded   int64           `json:"credits_added"`
	SubscriptionID *uuid.UUID      `json:"subscription_id,omitempty"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
}

func AdminApprove(svc ReviewService, logg *logger.Logger) http.HandlerFunc {
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
		var payload approveRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		res, err := svc.Approve(ctx, paymentsvc.ApproveInput{
			Actor:     actor,
			PaymentID: id,
			Notes:     validators.SanitizeString(payload.Notes, 500),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := approveResponse{
			Payment:      newPaymentResponse(res.Payment),
			Replayed:     res.Replayed,
			CreditsAdded: res.CreditsAdded,
		}
		if res.Subscription != nil {
			out.SubscriptionID = &res.Subscription.ID
		}
		if res.Invoice != nil {
			out.InvoiceNumber = res.Invoice.InvoiceNumber
		}
		responses.WriteSuccess(w, out)
	}
}

func AdminReject(svc ReviewService, logg *logger.Logger) http.HandlerFunc {
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
		var payload rejectRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payment, err := svc.Reject(ctx, paymentsvc.RejectInput{
			Actor:     actor,
			PaymentID: id,
			Reason:    validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

func AdminProofURL(svc ReviewService, logg *logger.Logger) http.HandlerFunc {
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
		url, err := svc.ProofURL(ctx, actor, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"url": url})
	}
}
