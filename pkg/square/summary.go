package square

import (
	"context"

	sq "github.com/square/square-go-sdk"
)

// Square order states that matter for settlement.
const (
	OrderStateOpen      = "OPEN"
	OrderStateCompleted = "COMPLETED"
	OrderStateCanceled  = "CANCELED"
)

// Link is the part of a payment link the billing core keeps.
type Link struct {
	ID      string
	OrderID string
	URL     string
}

// OrderSummary is the settlement-relevant view of a Square order.
type OrderSummary struct {
	OrderID    string
	State      string
	PaymentIDs []string
}

// OpenCheckout creates a payment link and returns its identifiers.
func (c *Client) OpenCheckout(ctx context.Context, params PaymentLinkParams) (*Link, error) {
	link, err := c.CreatePaymentLink(ctx, params)
	if err != nil {
		return nil, err
	}
	return summarizeLink(link), nil
}

// OrderStatus loads an order and reduces it to its state and tender payments.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*OrderSummary, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return summarizeOrder(order), nil
}

func summarizeLink(link *sq.PaymentLink) *Link {
	if link == nil {
		return nil
	}
	return &Link{
		ID:      stringValue(link.GetID()),
		OrderID: stringValue(link.GetOrderID()),
		URL:     stringValue(link.GetURL()),
	}
}

func summarizeOrder(order *sq.Order) *OrderSummary {
	if order == nil {
		return nil
	}
	out := &OrderSummary{
		OrderID: stringValue(order.GetID()),
		State:   orderStateString(order.GetState()),
	}
	for _, tender := range order.GetTenders() {
		if tender == nil {
			continue
		}
		if id := stringValue(tender.GetPaymentID()); id != "" {
			out.PaymentIDs = append(out.PaymentIDs, id)
		}
	}
	return out
}
