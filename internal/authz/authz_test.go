package authz

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

func TestCanApprovePayment(t *testing.T) {
	tenant := uuid.New()
	payment := &models.Payment{ID: uuid.New(), TenantID: tenant}

	tests := []struct {
		name    string
		actor   Actor
		allowed bool
	}{
		{"billing admin", Actor{UserID: uuid.New(), Role: enums.ActorRoleBillingAdmin}, true},
		{"system", System(), true},
		{"tenant admin", Actor{UserID: uuid.New(), TenantID: tenant, Role: enums.ActorRoleTenantAdmin}, false},
		{"member", Actor{UserID: uuid.New(), TenantID: tenant, Role: enums.ActorRoleMember}, false},
		{"admin of paying tenant", Actor{UserID: uuid.New(), TenantID: tenant, Role: enums.ActorRoleBillingAdmin}, false},
		{"admin without identity", Actor{Role: enums.ActorRoleBillingAdmin}, false},
		{"unknown role", Actor{UserID: uuid.New(), Role: "root"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanApprovePayment(tt.actor, payment)
			if tt.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tt.allowed && !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
				t.Fatalf("expected forbidden, got %v", err)
			}
		})
	}
}

func TestCanApprovePaymentRequiresPayment(t *testing.T) {
	if err := CanApprovePayment(System(), nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCanViewTenant(t *testing.T) {
	tenant := uuid.New()
	if err := CanViewTenant(Actor{TenantID: tenant, Role: enums.ActorRoleMember}, tenant); err != nil {
		t.Fatalf("member of tenant should view: %v", err)
	}
	if err := CanViewTenant(Actor{TenantID: uuid.New(), Role: enums.ActorRoleTenantAdmin}, tenant); err == nil {
		t.Fatal("other tenant admin should be denied")
	}
	if err := CanViewTenant(Actor{Role: enums.ActorRoleBillingAdmin, UserID: uuid.New()}, tenant); err != nil {
		t.Fatalf("billing admin should view: %v", err)
	}
}

func TestCanPurchase(t *testing.T) {
	tenant := uuid.New()
	if err := CanPurchase(Actor{TenantID: tenant, Role: enums.ActorRoleTenantAdmin}, tenant); err != nil {
		t.Fatalf("tenant admin should purchase: %v", err)
	}
	if err := CanPurchase(Actor{TenantID: tenant, Role: enums.ActorRoleMember}, tenant); err == nil {
		t.Fatal("member should not purchase")
	}
}

func TestCanUseFeature(t *testing.T) {
	tenant := uuid.New()
	actor := Actor{TenantID: tenant, Role: enums.ActorRoleMember}
	plan := &models.Plan{Features: json.RawMessage(`{"sms":true,"whatsapp":false}`)}

	if err := CanUseFeature(actor, tenant, plan, "sms"); err != nil {
		t.Fatalf("sms should be allowed: %v", err)
	}
	if err := CanUseFeature(actor, tenant, plan, "whatsapp"); err == nil {
		t.Fatal("disabled feature should be denied")
	}
	if err := CanUseFeature(actor, tenant, nil, "sms"); err == nil {
		t.Fatal("missing plan should be denied")
	}
}

func TestActorString(t *testing.T) {
	id := uuid.MustParse("7f1c2d7e-0a3b-4f55-9a5d-2b1f0c9e8d11")
	if got := (Actor{UserID: id, Role: enums.ActorRoleBillingAdmin}).String(); got != "billing_admin:"+id.String() {
		t.Fatalf("unexpected actor string %q", got)
	}
	if got := System().String(); got != "system" {
		t.Fatalf("unexpected system string %q", got)
	}
}
