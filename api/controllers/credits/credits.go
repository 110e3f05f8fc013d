package credits

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/api/controllers/actorcontext"
	"github.com/angelmondragon/tenant-billing/api/responses"
	"github.com/angelmondragon/tenant-billing/api/validators"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	"github.com/angelmondragon/tenant-billing/internal/ledger"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/pagination"
)

// LedgerService is the read and operator side of the credit ledger.
type LedgerService interface {
	Balance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	History(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (*ledger.HistoryPage, error)
	Adjust(ctx context.Context, input ledger.AdjustInput) (ledger.Result, error)
	Verify(ctx context.Context, tenantID uuid.UUID) error
}

// Consumer debits metered usage against the tenant's pool.
type Consumer interface {
	Consume(ctx context.Context, tenantID uuid.UUID, units int64, description, actor string) (ledger.Result, error)
}

type consumeRequest struct {
	Units       int64  `json:"units" validate:"gt=0"`
	Description string `json:"description" validate:"required,max=255"`
}

type adjustRequest struct {
	TenantID    uuid.UUID `json:"tenant_id" validate:"required"`
	Delta       int64     `json:"delta" validate:"required"`
	Description string    `json:"description" validate:"required,max=255"`
}

type mutationResponse struct {
	Balance       int64     `json:"balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Sequence      int64     `json:"sequence"`
}

type transactionResponse struct {
	ID           uuid.UUID  `json:"id"`
	Sequence     int64      `json:"sequence"`
	Type         string     `json:"type"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	Description  string     `json:"description"`
	Actor        string     `json:"actor,omitempty"`
	PaymentID    *uuid.UUID `json:"payment_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func Balance(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := authz.CanViewTenant(actor, tenantID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		balance, err := svc.Balance(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"tenant_id": tenantID, "balance": balance})
	}
}

// Transactions returns the ledger newest first. Pass next_cursor back as
// cursor to continue.
func Transactions(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := authz.CanViewTenant(actor, tenantID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := svc.History(ctx, tenantID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(page.Transactions))
		for _, txn := range page.Transactions {
			out = append(out, transactionResponse{
				ID:           txn.ID,
				Sequence:     txn.Sequence,
				Type:         string(txn.Type),
				Amount:       txn.Amount,
				BalanceAfter: txn.BalanceAfter,
				Description:  txn.Description,
				Actor:        txn.Actor,
				PaymentID:    txn.PaymentID,
				CreatedAt:    txn.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{
			"transactions": out,
			"next_cursor":  page.NextCursor,
		})
	}
}

func Consume(svc Consumer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, tenantID, err := actorcontext.ResolveTenant(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload consumeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.Consume(ctx, tenantID, payload.Units, validators.SanitizeString(payload.Description, 255), actor.String())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newMutationResponse(res))
	}
}

// AdminAdjust applies a signed operator correction to any tenant.
func AdminAdjust(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := authz.CanAdministerBilling(actor); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.Adjust(ctx, ledger.AdjustInput{
			TenantID:    payload.TenantID,
			Delta:       payload.Delta,
			Description: validators.SanitizeString(payload.Description, 255),
			Actor:       actor.String(),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newMutationResponse(res))
	}
}

// AdminVerify replays a tenant's ledger and reports any drift.
func AdminVerify(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := validators.ParseUUIDParam(r, "tenantID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Verify(ctx, tenantID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"tenant_id": tenantID, "consistent": true})
	}
}

func newMutationResponse(res ledger.Result) mutationResponse {
	return mutationResponse{
		Balance:       res.Balance,
		TransactionID: res.TransactionID,
		Sequence:      res.Sequence,
	}
}
