package callbacks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/tenant-billing/api/responses"
	paymentsvc "github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const maxCallbackBytes = 1 << 20

// CallbackService verifies and applies provider callbacks.
type CallbackService interface {
	HandleCallback(ctx context.Context, gateway enums.Gateway, cb paymentsvc.Callback) (*paymentsvc.CallbackResult, error)
}

type callbackResponse struct {
	Received    bool   `json:"received"`
	Duplicate   bool   `json:"duplicate"`
	Status      string `json:"status,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Webhook receives server-to-server notifications from one provider. The raw
// body is handed to the gateway untouched so signatures can be checked.
func Webhook(gateway enums.Gateway, svc CallbackService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read callback body"))
			return
		}
		if len(payload) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "callback body is empty"))
			return
		}
		if logg != nil {
			ctx = logg.WithField(ctx, "gateway", string(gateway))
		}

		res, err := svc.HandleCallback(ctx, gateway, paymentsvc.Callback{
			Payload: payload,
			Headers: r.Header.Clone(),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCallbackResponse(res))
	}
}

// Return handles the buyer's browser coming back from a hosted checkout.
// Square appends orderId to the redirect, Stripe fills in token.
func Return(svc CallbackService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gateway, err := enums.ParseGateway(chi.URLParam(r, "gateway"))
		if err != nil || gateway == enums.GatewayManual {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway"))
			return
		}
		token := returnToken(gateway, r)
		if token == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "checkout token missing"))
			return
		}

		res, err := svc.HandleCallback(ctx, gateway, paymentsvc.Callback{Token: token})
		if err != nil && (res == nil || res.Payment == nil) {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "checkout return failed verification")
		}
		if wantsHTML(r) && res.RedirectURL != "" {
			http.Redirect(w, r, res.RedirectURL, http.StatusSeeOther)
			return
		}
		responses.WriteSuccess(w, newCallbackResponse(res))
	}
}

func returnToken(gateway enums.Gateway, r *http.Request) string {
	q := r.URL.Query()
	switch gateway {
	case enums.GatewaySquare:
		return strings.TrimSpace(q.Get("orderId"))
	case enums.GatewayStripe:
		return strings.TrimSpace(q.Get("token"))
	}
	return ""
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func newCallbackResponse(res *paymentsvc.CallbackResult) callbackResponse {
	out := callbackResponse{Received: true}
	if res == nil {
		return out
	}
	out.Duplicate = res.Duplicate
	out.Status = string(res.Status)
	out.RedirectURL = res.RedirectURL
	return out
}
