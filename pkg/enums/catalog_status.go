package enums

import "fmt"

// CatalogStatus marks whether a plan or credit package can still be purchased.
type CatalogStatus string

const (
	CatalogStatusActive  CatalogStatus = "active"
	CatalogStatusRetired CatalogStatus = "retired"
)

var validCatalogStatuses = []CatalogStatus{
	CatalogStatusActive,
	CatalogStatusRetired,
}

// String implements fmt.Stringer.
func (c CatalogStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CatalogStatus) IsValid() bool {
	for _, candidate := range validCatalogStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCatalogStatus converts raw input into a CatalogStatus.
func ParseCatalogStatus(value string) (CatalogStatus, error) {
	for _, candidate := range validCatalogStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid catalog status %q", value)
}
