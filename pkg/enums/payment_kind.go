package enums

import "fmt"

// PaymentKind describes what a payment purchases.
type PaymentKind string

const (
	PaymentKindSubscription  PaymentKind = "subscription"
	PaymentKindCreditPackage PaymentKind = "credit_package"
)

var validPaymentKinds = []PaymentKind{
	PaymentKindSubscription,
	PaymentKindCreditPackage,
}

// String implements fmt.Stringer.
func (p PaymentKind) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentKind) IsValid() bool {
	for _, candidate := range validPaymentKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentKind converts raw input into a PaymentKind.
func ParsePaymentKind(value string) (PaymentKind, error) {
	for _, candidate := range validPaymentKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment kind %q", value)
}
