package payments

import (
	"context"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

// ManualGateway covers bank transfers and cash. Nothing is verified with a
// provider; settlement happens through staff approval.
type ManualGateway struct{}

func (ManualGateway) Name() enums.Gateway { return enums.GatewayManual }

func (ManualGateway) Supports(method enums.PaymentMethod) bool {
	return method.IsOffline()
}

func (ManualGateway) Checkout(context.Context, CheckoutRequest) (*CheckoutMaterial, error) {
	return nil, nil
}

func (ManualGateway) Verify(context.Context, Callback) (*Verification, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "manual payments have no callbacks")
}

func (ManualGateway) Lookup(context.Context, *models.Payment) (*Verification, error) {
	return &Verification{Outcome: OutcomePending}, nil
}
