package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/square"
)

type squareAPI interface {
	OpenCheckout(ctx context.Context, params square.PaymentLinkParams) (*square.Link, error)
	OrderStatus(ctx context.Context, orderID string) (*square.OrderSummary, error)
	VerifySignature(body []byte, header string) bool
}

// SquareGateway binds hosted checkout to Square payment links. The payment
// token is the order id behind the link, which both webhooks and the
// browser return carry.
type SquareGateway struct {
	api         squareAPI
	redirectURL string
}

func NewSquareGateway(api squareAPI, publicBaseURL string) *SquareGateway {
	return &SquareGateway{
		api:         api,
		redirectURL: strings.TrimRight(publicBaseURL, "/") + "/api/v1/callbacks/square/return",
	}
}

func (g *SquareGateway) Name() enums.Gateway { return enums.GatewaySquare }

func (g *SquareGateway) Supports(method enums.PaymentMethod) bool {
	return method == enums.PaymentMethodHostedGateway
}

func (g *SquareGateway) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutMaterial, error) {
	p := req.Payment
	link, err := g.api.OpenCheckout(ctx, square.PaymentLinkParams{
		Name:           req.Description,
		AmountCents:    p.Amount.Shift(2).IntPart(),
		Currency:       p.CurrencyCode,
		RedirectURL:    g.redirectURL,
		BuyerEmail:     req.Buyer.Email,
		ReferenceID:    p.ID.String(),
		Note:           req.Description,
		IdempotencyKey: "checkout-" + p.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	if link == nil || link.OrderID == "" || link.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square payment link incomplete")
	}
	return &CheckoutMaterial{
		Gateway:     enums.GatewaySquare,
		RedirectURL: link.URL,
		Token:       link.OrderID,
		Data: GatewayData{Square: &SquareData{
			PaymentLinkID: link.ID,
			OrderID:       link.OrderID,
			CheckoutURL:   link.URL,
		}},
	}, nil
}

type squareWebhook struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Payment *struct {
				ID         string `json:"id"`
				Status     string `json:"status"`
				OrderID    string `json:"order_id"`
				ReceiptURL string `json:"receipt_url"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// Verify authenticates a webhook by signature. A browser return has no
// payload, so its order is confirmed against the Orders API instead.
func (g *SquareGateway) Verify(ctx context.Context, cb Callback) (*Verification, error) {
	if len(cb.Payload) == 0 {
		if strings.TrimSpace(cb.Token) == "" {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, ErrVerificationFailed, "square return is missing the order id")
		}
		return g.lookupOrder(ctx, cb.Token)
	}

	var evt squareWebhook
	if !g.api.VerifySignature(cb.Payload, cb.Headers.Get(square.SignatureHeader)) {
		// The order id is unverified and only names the payment to fail.
		claimed := &Verification{}
		if json.Unmarshal(cb.Payload, &evt) == nil && evt.Data.Object.Payment != nil {
			claimed.Token = evt.Data.Object.Payment.OrderID
		}
		return claimed, pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, ErrVerificationFailed, "square webhook signature mismatch")
	}

	if err := json.Unmarshal(cb.Payload, &evt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid square webhook payload")
	}
	payment := evt.Data.Object.Payment
	if !strings.HasPrefix(evt.Type, "payment.") || payment == nil || payment.OrderID == "" {
		return &Verification{Outcome: OutcomeIgnored, EventID: evt.EventID}, nil
	}

	v := &Verification{
		Token:        payment.OrderID,
		EventID:      evt.EventID,
		GatewayTxnID: payment.ID,
		Data: GatewayData{Square: &SquareData{
			OrderID:    payment.OrderID,
			PaymentID:  payment.ID,
			Status:     payment.Status,
			ReceiptURL: payment.ReceiptURL,
		}},
	}
	switch strings.ToUpper(payment.Status) {
	case "COMPLETED":
		v.Outcome = OutcomeSucceeded
	case "FAILED", "CANCELED":
		v.Outcome = OutcomeDeclined
		v.Reason = "square payment " + strings.ToLower(payment.Status)
	default:
		v.Outcome = OutcomePending
	}
	return v, nil
}

func (g *SquareGateway) Lookup(ctx context.Context, payment *models.Payment) (*Verification, error) {
	if payment.GatewayToken == nil || *payment.GatewayToken == "" {
		return &Verification{Outcome: OutcomePending}, nil
	}
	return g.lookupOrder(ctx, *payment.GatewayToken)
}

func (g *SquareGateway) lookupOrder(ctx context.Context, orderID string) (*Verification, error) {
	order, err := g.api.OrderStatus(ctx, orderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return &Verification{Token: orderID}, pkgerrors.Wrap(pkgerrors.CodeGatewayVerification, ErrVerificationFailed, "square order not found")
		}
		return nil, err
	}

	v := &Verification{
		Token: orderID,
		Data:  GatewayData{Square: &SquareData{OrderID: orderID, Status: order.State}},
	}
	switch order.State {
	case square.OrderStateCompleted:
		v.Outcome = OutcomeSucceeded
		if len(order.PaymentIDs) > 0 {
			v.GatewayTxnID = order.PaymentIDs[0]
			v.Data.Square.PaymentID = order.PaymentIDs[0]
		}
	case square.OrderStateCanceled:
		v.Outcome = OutcomeDeclined
		v.Reason = "square order canceled"
	default:
		v.Outcome = OutcomePending
	}
	return v, nil
}
