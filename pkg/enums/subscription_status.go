package enums

import "fmt"

// SubscriptionStatus tracks where a tenant subscription sits in its lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusActive,
	SubscriptionStatusExpired,
	SubscriptionStatusCancelled,
	SubscriptionStatusSuspended,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending: {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusActive: {
		SubscriptionStatusExpired,
		SubscriptionStatusCancelled,
		SubscriptionStatusSuspended,
	},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// active -> active is only reachable through renewal and is not listed here.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, candidate := range subscriptionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}
