package enums

import (
	"testing"
	"time"
)

func TestBillingCycleAdvance(t *testing.T) {
	from := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)

	if got := BillingCycleYearly.Advance(from, 1); !got.Equal(time.Date(2027, time.January, 31, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected yearly advance %v", got)
	}
	if got := BillingCycleMonthly.Advance(from, 3); !got.Equal(from.AddDate(0, 3, 0)) {
		t.Fatalf("unexpected monthly advance %v", got)
	}
	if got := BillingCycleMonthly.Advance(from, 0); !got.Equal(from.AddDate(0, 1, 0)) {
		t.Fatalf("zero cycles should advance one cycle, got %v", got)
	}
}

func TestSubscriptionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SubscriptionStatus
		ok       bool
	}{
		{SubscriptionStatusPending, SubscriptionStatusActive, true},
		{SubscriptionStatusPending, SubscriptionStatusCancelled, true},
		{SubscriptionStatusActive, SubscriptionStatusExpired, true},
		{SubscriptionStatusActive, SubscriptionStatusSuspended, true},
		{SubscriptionStatusActive, SubscriptionStatusActive, false},
		{SubscriptionStatusExpired, SubscriptionStatusActive, false},
		{SubscriptionStatusCancelled, SubscriptionStatusActive, false},
		{SubscriptionStatusPending, SubscriptionStatusExpired, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	if PaymentStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []PaymentStatus{PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	if _, err := ParsePaymentMethod("crypto"); err == nil {
		t.Fatal("expected error for unknown payment method")
	}
	m, err := ParsePaymentMethod("bank_transfer")
	if err != nil || !m.IsOffline() {
		t.Fatalf("expected offline bank_transfer, got %v %v", m, err)
	}
	if _, err := ParseCreditTransactionType("gift"); err == nil {
		t.Fatal("expected error for unknown transaction type")
	}
	if CreditTransactionUsage.IsCredit() {
		t.Fatal("usage must not be a credit type")
	}
}
