package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
)

// PaymentLinkParams describes a quick-pay checkout for one purchase.
type PaymentLinkParams struct {
	Name           string
	AmountCents    int64
	Currency       string
	LocationID     string
	RedirectURL    string
	BuyerEmail     string
	ReferenceID    string
	Note           string
	IdempotencyKey string
}

func (p PaymentLinkParams) toSquareRequest(idempotencyKey string) *sqcheckout.CreatePaymentLinkRequest {
	req := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: ptrString(idempotencyKey),
		QuickPay: &sq.QuickPay{
			Name:       strings.TrimSpace(p.Name),
			PriceMoney: moneyPtr(p.AmountCents, p.Currency),
			LocationID: strings.TrimSpace(p.LocationID),
		},
	}
	if trimmed := strings.TrimSpace(p.RedirectURL); trimmed != "" {
		req.CheckoutOptions = &sq.CheckoutOptions{RedirectURL: ptrString(trimmed)}
	}
	if trimmed := strings.TrimSpace(p.BuyerEmail); trimmed != "" {
		req.PrePopulatedData = &sq.PrePopulatedData{BuyerEmail: ptrString(trimmed)}
	}
	note := strings.TrimSpace(p.Note)
	if ref := strings.TrimSpace(p.ReferenceID); ref != "" {
		if note == "" {
			note = ref
		} else {
			note = note + " (" + ref + ")"
		}
	}
	if note != "" {
		req.PaymentNote = ptrString(note)
	}
	return req
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
