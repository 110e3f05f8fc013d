package payments

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

// GatewayData is the typed view of payments.gateway_data. Exactly one
// provider section may be set, matching the payment's gateway. Only
// gateway-issued identifiers are stored here, never instrument data.
type GatewayData struct {
	Square *SquareData `json:"square,omitempty"`
	Stripe *StripeData `json:"stripe,omitempty"`
	Manual *ManualData `json:"manual,omitempty"`
}

type SquareData struct {
	PaymentLinkID string `json:"payment_link_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	Status        string `json:"status,omitempty"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
}

type StripeData struct {
	SessionID       string `json:"session_id,omitempty"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	EventID         string `json:"event_id,omitempty"`
}

type ManualData struct {
	Reference        string `json:"reference,omitempty"`
	ProofContentType string `json:"proof_content_type,omitempty"`
	ProofSize        int64  `json:"proof_size,omitempty"`
	ReviewNotes      string `json:"review_notes,omitempty"`
}

// ParseGatewayData decodes raw gateway_data and checks that it only carries
// the section for gateway.
func ParseGatewayData(gateway enums.Gateway, raw json.RawMessage) (GatewayData, error) {
	var data GatewayData
	if len(raw) == 0 || string(raw) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return GatewayData{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode gateway data")
	}
	if err := data.validate(gateway); err != nil {
		return GatewayData{}, err
	}
	return data, nil
}

// Encode validates and serializes the data for persistence.
func (d GatewayData) Encode(gateway enums.Gateway) (json.RawMessage, error) {
	if err := d.validate(gateway); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway data")
	}
	return raw, nil
}

func (d GatewayData) validate(gateway enums.Gateway) error {
	sections := map[enums.Gateway]bool{
		enums.GatewaySquare: d.Square != nil,
		enums.GatewayStripe: d.Stripe != nil,
		enums.GatewayManual: d.Manual != nil,
	}
	for name, present := range sections {
		if present && name != gateway {
			return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("gateway data for %s found on %s payment", name, gateway))
		}
	}
	return nil
}

// Merge overlays the non-empty fields of other onto d.
func (d GatewayData) Merge(other GatewayData) GatewayData {
	if other.Square != nil {
		if d.Square == nil {
			d.Square = &SquareData{}
		}
		merged := *d.Square
		overlay(&merged.PaymentLinkID, other.Square.PaymentLinkID)
		overlay(&merged.OrderID, other.Square.OrderID)
		overlay(&merged.CheckoutURL, other.Square.CheckoutURL)
		overlay(&merged.PaymentID, other.Square.PaymentID)
		overlay(&merged.Status, other.Square.Status)
		overlay(&merged.ReceiptURL, other.Square.ReceiptURL)
		d.Square = &merged
	}
	if other.Stripe != nil {
		if d.Stripe == nil {
			d.Stripe = &StripeData{}
		}
		merged := *d.Stripe
		overlay(&merged.SessionID, other.Stripe.SessionID)
		overlay(&merged.CheckoutURL, other.Stripe.CheckoutURL)
		overlay(&merged.PaymentIntentID, other.Stripe.PaymentIntentID)
		overlay(&merged.PaymentStatus, other.Stripe.PaymentStatus)
		overlay(&merged.EventID, other.Stripe.EventID)
		d.Stripe = &merged
	}
	if other.Manual != nil {
		if d.Manual == nil {
			d.Manual = &ManualData{}
		}
		merged := *d.Manual
		overlay(&merged.Reference, other.Manual.Reference)
		overlay(&merged.ProofContentType, other.Manual.ProofContentType)
		overlay(&merged.ReviewNotes, other.Manual.ReviewNotes)
		if other.Manual.ProofSize > 0 {
			merged.ProofSize = other.Manual.ProofSize
		}
		d.Manual = &merged
	}
	return d
}

// MergeRaw merges update into the persisted raw data for gateway.
func MergeRaw(gateway enums.Gateway, raw json.RawMessage, update GatewayData) (json.RawMessage, error) {
	current, err := ParseGatewayData(gateway, raw)
	if err != nil {
		return nil, err
	}
	return current.Merge(update).Encode(gateway)
}

func overlay(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
