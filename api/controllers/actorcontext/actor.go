package actorcontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/api/middleware"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
)

// ResolveActor returns the authenticated principal for the request.
func ResolveActor(r *http.Request) (authz.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return authz.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

// ResolveTenant returns the principal together with the tenant it acts for.
// Tenant-scoped routes never take the tenant from the URL or body.
func ResolveTenant(r *http.Request) (authz.Actor, uuid.UUID, error) {
	actor, err := ResolveActor(r)
	if err != nil {
		return authz.Actor{}, uuid.Nil, err
	}
	if actor.TenantID == uuid.Nil {
		return authz.Actor{}, uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context required")
	}
	return actor, actor.TenantID, nil
}
