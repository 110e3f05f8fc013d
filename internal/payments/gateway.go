package payments

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

// Outcome is the provider's verdict on a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDeclined  Outcome = "declined"
	OutcomePending   Outcome = "pending"
	// OutcomeIgnored marks provider events that do not concern a payment.
	OutcomeIgnored Outcome = "ignored"
)

// Buyer is the contact captured at purchase time.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CheckoutRequest is what a gateway needs to open a hosted checkout.
type CheckoutRequest struct {
	Payment     *models.Payment
	Buyer       Buyer
	Description string
}

// CheckoutMaterial is the provider-opaque payload handed back to the client.
type CheckoutMaterial struct {
	Gateway     enums.Gateway `json:"gateway"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	Token       string        `json:"token,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Data        GatewayData   `json:"-"`
}

// Callback is an inbound provider notification or browser return.
type Callback struct {
	Token   string
	Payload []byte
	Headers http.Header
}

// Verification is the provider-confirmed state of one payment.
type Verification struct {
	Outcome      Outcome
	Token        string
	EventID      string
	GatewayTxnID string
	Reason       string
	Data         GatewayData
}

// Gateway is one payment provider binding. Switching providers changes
// which Gateway is registered and which GatewayData section is written.
type Gateway interface {
	Name() enums.Gateway
	Supports(method enums.PaymentMethod) bool
	// Checkout opens a hosted checkout. Offline gateways return nil material.
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutMaterial, error)
	// Verify authenticates a callback and resolves the payment outcome. An
	// unauthentic callback returns ErrVerificationFailed, together with a
	// Verification carrying the token it claimed when one could be read.
	Verify(ctx context.Context, cb Callback) (*Verification, error)
	// Lookup asks the provider for the current state of a pending payment.
	Lookup(ctx context.Context, payment *models.Payment) (*Verification, error)
}

// Registry holds the gateways bound in this deployment.
type Registry struct {
	gateways map[enums.Gateway]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: map[enums.Gateway]Gateway{}}
	for _, gw := range gateways {
		r.Register(gw)
	}
	return r
}

func (r *Registry) Register(gw Gateway) {
	if gw == nil {
		return
	}
	r.gateways[gw.Name()] = gw
}

// Get returns the gateway bound under name.
func (r *Registry) Get(name enums.Gateway) (Gateway, error) {
	if r != nil {
		if gw, ok := r.gateways[name]; ok {
			return gw, nil
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrGatewayNotBound, fmt.Sprintf("gateway %q is not configured", name)).
		WithDetails(map[string]any{"gateway": name})
}

// Names lists the bound gateways in stable order.
func (r *Registry) Names() []enums.Gateway {
	if r == nil {
		return nil
	}
	out := make([]enums.Gateway, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
