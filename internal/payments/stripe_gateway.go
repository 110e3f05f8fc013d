package payments

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	stripeclient "github.com/angelmondragon/tenant-billing/pkg/stripe"
)

type stripeAPI interface {
	CreateCheckoutSession(ctx context.Context, params stripeclient.CheckoutParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// StripeGateway binds hosted checkout to Stripe Checkout sessions. The
// payment token is the session id.
type StripeGateway struct {
	api       stripeAPI
	returnURL string
}

func NewStripeGateway(api stripeAPI, publicBaseURL string) *StripeGateway {
	return &StripeGateway{
		api:       api,
		returnURL: strings.TrimRight(publicBaseURL, "/") + "/api/v1/callbacks/stripe/return?token={CHECKOUT_SESSION_ID}",
	}
}

func (g *StripeGateway) Name() enums.Gateway { return enums.GatewayStripe }

func (g *StripeGateway) Supports(method enums.PaymentMethod) bool {
	return method == enums.PaymentMethodHostedGateway
}

func (g *StripeGateway) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutMaterial, error) {
	p := req.Payment
	sess, err := g.api.CreateCheckoutSession(ctx, stripeclient.CheckoutParams{
		Name:        req.Description,
		AmountCents: p.Amount.Shift(2).IntPart(),
		Currency:    p.CurrencyCode,
		SuccessURL:  g.returnURL,
		CancelURL:   g.returnURL,
		Email:       req.Buyer.Email,
		ReferenceID: p.ID.String(),
		Metadata: map[string]string{
			"payment_id": p.ID.String(),
			"tenant_id":  p.TenantID.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.ID == "" || sess.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe checkout session incomplete")
	}

	material := &CheckoutMaterial{
		Gateway:     enums.GatewayStripe,
		RedirectURL: sess.URL,
		Token:       sess.ID,
		Data:        GatewayData{Stripe: &StripeData{SessionID: sess.ID, CheckoutURL: sess.URL}},
	}
	if sess.ExpiresAt > 0 {
		exp := time.Unix(sess.ExpiresAt, 0).UTC()
		material.ExpiresAt = &exp
	}
	return material, nil
}

// Verify checks the Stripe-Signature of a webhook. A browser return only
// carries the session id, which is confirmed by reloading the session.
func (g *StripeGateway) Verify(ctx context.Context, cb Callback) (*Verification, error) {
	if len(cb.Payload) == 0 {
		if strings.TrimSpace(cb.Token) == "" {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, ErrVerificationFailed, "stripe return is missing the session id")
		}
		return g.lookupSession(ctx, cb.Token)
	}

	event, err := g.api.ConstructEvent(cb.Payload, cb.Headers.Get(stripeclient.SignatureHeader))
	if err != nil {
		return &Verification{Token: claimedSession(cb.Payload)}, pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, ErrVerificationFailed, err.Error())
	}

	kind := string(event.Type)
	if !strings.HasPrefix(kind, "checkout.session.") || event.Data == nil {
		return &Verification{Outcome: OutcomeIgnored, EventID: event.ID}, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout session payload")
	}

	v := sessionVerification(&sess)
	v.EventID = event.ID
	v.Data.Stripe.EventID = event.ID
	switch kind {
	case "checkout.session.completed":
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			v.Outcome = OutcomePending
		}
	case "checkout.session.async_payment_succeeded":
		v.Outcome = OutcomeSucceeded
	case "checkout.session.async_payment_failed":
		v.Outcome = OutcomeDeclined
		v.Reason = "stripe async payment failed"
	case "checkout.session.expired":
		v.Outcome = OutcomeDeclined
		v.Reason = "stripe checkout session expired"
	default:
		v.Outcome = OutcomeIgnored
	}
	return v, nil
}

func (g *StripeGateway) Lookup(ctx context.Context, payment *models.Payment) (*Verification, error) {
	if payment.GatewayToken == nil || *payment.GatewayToken == "" {
		return &Verification{Outcome: OutcomePending}, nil
	}
	return g.lookupSession(ctx, *payment.GatewayToken)
}

func (g *StripeGateway) lookupSession(ctx context.Context, id string) (*Verification, error) {
	sess, err := g.api.GetCheckoutSession(ctx, id)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return &Verification{Token: id}, pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, ErrVerificationFailed, "stripe session not found")
		}
		return nil, err
	}
	return sessionVerification(sess), nil
}

// claimedSession reads the session id from an event whose signature did not
// check out. It is only trusted to name the payment being failed.
func claimedSession(payload []byte) string {
	var evt struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if json.Unmarshal(payload, &evt) != nil || !strings.HasPrefix(evt.Type, "checkout.session.") {
		return ""
	}
	return evt.Data.Object.ID
}

func sessionVerification(sess *stripe.CheckoutSession) *Verification {
	data := &StripeData{SessionID: sess.ID, PaymentStatus: string(sess.PaymentStatus)}
	txnID := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		txnID = sess.PaymentIntent.ID
		data.PaymentIntentID = sess.PaymentIntent.ID
	}

	v := &Verification{Token: sess.ID, GatewayTxnID: txnID, Data: GatewayData{Stripe: data}}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		v.Outcome = OutcomeSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		v.Outcome = OutcomeDeclined
		v.Reason = "stripe checkout session expired"
	default:
		v.Outcome = OutcomePending
	}
	return v
}
