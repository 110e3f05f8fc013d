package enums

import "fmt"

// CreditTransactionType classifies a credit ledger entry.
type CreditTransactionType string

const (
	CreditTransactionPurchase        CreditTransactionType = "purchase"
	CreditTransactionUsage           CreditTransactionType = "usage"
	CreditTransactionRefund          CreditTransactionType = "refund"
	CreditTransactionAdminAdjustment CreditTransactionType = "admin_adjustment"
	CreditTransactionBonus           CreditTransactionType = "bonus"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionPurchase,
	CreditTransactionUsage,
	CreditTransactionRefund,
	CreditTransactionAdminAdjustment,
	CreditTransactionBonus,
}

// String implements fmt.Stringer.
func (c CreditTransactionType) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCreditTransactionType converts raw input into a CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}

// IsCredit reports whether the type may be used with a positive ledger credit.
func (c CreditTransactionType) IsCredit() bool {
	switch c {
	case CreditTransactionPurchase, CreditTransactionRefund, CreditTransactionAdminAdjustment, CreditTransactionBonus:
		return true
	default:
		return false
	}
}
