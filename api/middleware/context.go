package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/internal/authz"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxTenantID contextKey = "tenant_id"
)

func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxUserID)
}

func RoleFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxRole)
}

func TenantIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxTenantID)
}

// ActorFromContext rebuilds the authenticated principal. ok is false when
// the request never passed through Auth.
func ActorFromContext(ctx context.Context) (authz.Actor, bool) {
	role := enums.ActorRole(RoleFromContext(ctx))
	if !role.IsValid() {
		return authz.Actor{}, false
	}
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return authz.Actor{}, false
	}
	actor := authz.Actor{UserID: userID, Role: role}
	if raw := TenantIDFromContext(ctx); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return authz.Actor{}, false
		}
		actor.TenantID = tenantID
	}
	return actor, true
}

// WithActor seeds the context the same way Auth does. Used by tests and
// internal callers.
func WithActor(ctx context.Context, actor authz.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	ctx = context.WithValue(ctx, ctxRole, string(actor.Role))
	if actor.TenantID != uuid.Nil {
		ctx = context.WithValue(ctx, ctxTenantID, actor.TenantID.String())
	}
	return ctx
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
