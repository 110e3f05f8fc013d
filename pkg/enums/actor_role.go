package enums

import "fmt"

// ActorRole is the role carried in the access token.
type ActorRole string

const (
	ActorRoleMember       ActorRole = "tenant_member"
	ActorRoleTenantAdmin  ActorRole = "tenant_admin"
	ActorRoleBillingAdmin ActorRole = "billing_admin"
	ActorRoleSystem       ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleMember,
	ActorRoleTenantAdmin,
	ActorRoleBillingAdmin,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (a ActorRole) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into a ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
