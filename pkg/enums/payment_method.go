package enums

import "fmt"

// PaymentMethod is how the tenant pays.
type PaymentMethod string

const (
	PaymentMethodHostedGateway PaymentMethod = "hosted_gateway"
	PaymentMethodBankTransfer  PaymentMethod = "bank_transfer"
	PaymentMethodCash          PaymentMethod = "cash"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodHostedGateway,
	PaymentMethodBankTransfer,
	PaymentMethodCash,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// IsOffline reports whether the method settles through proof and approval.
func (p PaymentMethod) IsOffline() bool {
	return p == PaymentMethodBankTransfer || p == PaymentMethodCash
}
