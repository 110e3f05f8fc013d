package ledger

import pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"

var (
	// ErrInsufficientCredit means a debit would drive the balance negative.
	// Callers treat it as "deny the metered action".
	ErrInsufficientCredit = pkgerrors.New(pkgerrors.CodeInsufficientCredit, "insufficient credit")
	// ErrConcurrentUpdate is returned when optimistic retries are exhausted.
	ErrConcurrentUpdate = pkgerrors.New(pkgerrors.CodeConflict, "credit balance changed concurrently")
	// ErrPaymentAlreadyCredited means a ledger entry already references the payment.
	ErrPaymentAlreadyCredited = pkgerrors.New(pkgerrors.CodeConflict, "payment already credited")
	// ErrInconsistentLedger means replaying the log did not reproduce the balance.
	ErrInconsistentLedger = pkgerrors.New(pkgerrors.CodeInternal, "credit ledger inconsistent")
	// ErrBalanceOverflow means a credit would not fit in the balance.
	ErrBalanceOverflow = pkgerrors.New(pkgerrors.CodeValidation, "credit balance would overflow")
)
