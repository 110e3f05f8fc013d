package subscriptions

import pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"

var (
	ErrNotFound             = pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	ErrNoActiveSubscription = pkgerrors.New(pkgerrors.CodeNotFound, "tenant has no active subscription")
	// ErrInvalidTransition is returned when the lifecycle forbids the requested move.
	ErrInvalidTransition = pkgerrors.New(pkgerrors.CodeStateConflict, "invalid subscription state transition")
	// ErrActiveExists is returned when activating would leave a tenant with two active subscriptions.
	ErrActiveExists = pkgerrors.New(pkgerrors.CodeStateConflict, "tenant already has an active subscription")
)
