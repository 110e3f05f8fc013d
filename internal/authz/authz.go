// Package authz holds the capability checks for billing actions. Every check
// is a pure function of the actor and the resource so decisions can be
// audited and tested without a database.
package authz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

// Actor is the authenticated principal behind a call. TenantID is uuid.Nil
// for platform staff and the system scheduler.
type Actor struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     enums.ActorRole
}

// System is the actor used by sweeps and gateway callbacks.
func System() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// String renders the actor for audit columns.
func (a Actor) String() string {
	if a.Role == enums.ActorRoleSystem {
		return "system"
	}
	return fmt.Sprintf("%s:%s", a.Role, a.UserID)
}

func (a Actor) isStaff() bool {
	return a.Role == enums.ActorRoleBillingAdmin || a.Role == enums.ActorRoleSystem
}

func denied(msg string) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, msg)
}

// CanApprovePayment allows billing admins and the system to settle or reject
// an offline payment. A billing admin attached to the paying tenant may not
// approve that tenant's payments.
func CanApprovePayment(actor Actor, payment *models.Payment) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if !actor.Role.IsValid() {
		return denied("unknown role")
	}
	if !actor.isStaff() {
		return denied("only billing admins can approve payments")
	}
	if actor.Role == enums.ActorRoleSystem {
		return nil
	}
	if actor.UserID == uuid.Nil {
		return denied("approver identity is required")
	}
	if actor.TenantID != uuid.Nil && actor.TenantID == payment.TenantID {
		return denied("approver cannot belong to the paying tenant")
	}
	return nil
}

// CanViewTenant lets tenant users read their own tenant and staff read any.
func CanViewTenant(actor Actor, tenantID uuid.UUID) error {
	if actor.isStaff() {
		return nil
	}
	if tenantID == uuid.Nil || actor.TenantID != tenantID {
		return denied("tenant access denied")
	}
	return nil
}

// CanPurchase lets tenant admins buy for their own tenant.
func CanPurchase(actor Actor, tenantID uuid.UUID) error {
	if err := CanViewTenant(actor, tenantID); err != nil {
		return err
	}
	if actor.Role == enums.ActorRoleMember {
		return denied("tenant admin role required to purchase")
	}
	return nil
}

// CanUseFeature checks the actor's tenant and the plan feature flag.
func CanUseFeature(actor Actor, tenantID uuid.UUID, plan *models.Plan, feature string) error {
	if err := CanViewTenant(actor, tenantID); err != nil {
		return err
	}
	if plan == nil {
		return denied("no active subscription")
	}
	if !plan.HasFeature(feature) {
		return denied(fmt.Sprintf("feature %q not included in plan", feature))
	}
	return nil
}

// CanAdministerBilling covers credit adjustments, catalog edits and manual
// subscription transitions.
func CanAdministerBilling(actor Actor) error {
	if !actor.isStaff() {
		return denied("billing admin role required")
	}
	return nil
}
