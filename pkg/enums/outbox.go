package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePayment       OutboxAggregateType = "payment"
	AggregateSubscription  OutboxAggregateType = "subscription"
	AggregateCreditBalance OutboxAggregateType = "credit_balance"
	AggregateInvoice       OutboxAggregateType = "invoice"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregateSubscription,
	AggregateCreditBalance,
	AggregateInvoice,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a billing domain event.
type OutboxEventType string

const (
	EventPaymentCompleted      OutboxEventType = "payment.completed"
	EventPaymentFailed         OutboxEventType = "payment.failed"
	EventSubscriptionActivated OutboxEventType = "subscription.activated"
	EventSubscriptionRenewed   OutboxEventType = "subscription.renewed"
	EventSubscriptionExpired   OutboxEventType = "subscription.expired"
	EventSubscriptionExpiring  OutboxEventType = "subscription.expiring"
	EventCreditsLowBalance     OutboxEventType = "credits.low_balance"
	EventInvoiceIssued         OutboxEventType = "invoice.issued"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentCompleted,
	EventPaymentFailed,
	EventSubscriptionActivated,
	EventSubscriptionRenewed,
	EventSubscriptionExpired,
	EventSubscriptionExpiring,
	EventCreditsLowBalance,
	EventInvoiceIssued,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
