package payments

import pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"

var (
	ErrNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	// ErrVerificationFailed means the provider could not confirm the callback.
	// The payment is moved to failed and no effect is applied.
	ErrVerificationFailed = pkgerrors.New(pkgerrors.CodeGatewayVerification, "gateway verification failed")
	// ErrProviderUnavailable means the provider timed out or was unreachable.
	// The payment stays pending so a retry or reconciliation can settle it.
	ErrProviderUnavailable = pkgerrors.New(pkgerrors.CodeDependency, "payment provider unavailable")
	ErrInvalidTransition   = pkgerrors.New(pkgerrors.CodeStateConflict, "invalid payment state transition")
	ErrGatewayNotBound     = pkgerrors.New(pkgerrors.CodeValidation, "gateway is not configured")
)
