package enums

import (
	"fmt"
	"time"
)

// BillingCycle is the renewal cadence of a plan.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

var validBillingCycles = []BillingCycle{
	BillingCycleMonthly,
	BillingCycleYearly,
}

// String implements fmt.Stringer.
func (b BillingCycle) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BillingCycle) IsValid() bool {
	for _, candidate := range validBillingCycles {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingCycle converts raw input into a BillingCycle.
func ParseBillingCycle(value string) (BillingCycle, error) {
	for _, candidate := range validBillingCycles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}

// Advance returns from moved forward by the given number of cycles.
func (b BillingCycle) Advance(from time.Time, cycles int) time.Time {
	if cycles <= 0 {
		cycles = 1
	}
	switch b {
	case BillingCycleYearly:
		return from.AddDate(cycles, 0, 0)
	default:
		return from.AddDate(0, cycles, 0)
	}
}
