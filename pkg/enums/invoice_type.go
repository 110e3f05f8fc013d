package enums

import "fmt"

// InvoiceType distinguishes sale invoices from refund notes.
type InvoiceType string

const (
	InvoiceTypeSale   InvoiceType = "sale"
	InvoiceTypeRefund InvoiceType = "refund"
)

var validInvoiceTypes = []InvoiceType{
	InvoiceTypeSale,
	InvoiceTypeRefund,
}

// String implements fmt.Stringer.
func (i InvoiceType) String() string {
	return string(i)
}

// IsValid reports whether the value is known.
func (i InvoiceType) IsValid() bool {
	for _, candidate := range validInvoiceTypes {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInvoiceType converts raw input into a InvoiceType.
func ParseInvoiceType(value string) (InvoiceType, error) {
	for _, candidate := range validInvoiceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice type %q", value)
}
