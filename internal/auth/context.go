package auth

import (
	"context"
	"errors"
)

// ErrTenantMismatch indicates the resource belongs to a different tenant.
var ErrTenantMismatch = errors.New("tenant mismatch")

type contextKey string

const (
	contextKeyTenant contextKey = "auth.tenant_id"
	contextKeyRole   contextKey = "auth.role"
	contextKeyActor  contextKey = "auth.actor"
)

// WithIdentity stores the authenticated identity in context.
func WithIdentity(ctx context.Context, tenantID string, role Role, actor string) context.Context {
	ctx = context.WithValue(ctx, contextKeyTenant, tenantID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeyActor, actor)
	return ctx
}

// TenantIDFromContext extracts the tenant id, or "" when unauthenticated.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if tenantID, ok := ctx.Value(contextKeyTenant).(string); ok {
		return tenantID
	}
	return ""
}

// RoleFromContext extracts the caller role.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if raw, ok := value.(string); ok {
		if role, valid := NormalizeRole(raw); valid {
			return role
		}
	}
	return ""
}

// ActorFromContext extracts the authenticated subject, used as the default
// actor on alert transitions.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if actor, ok := ctx.Value(contextKeyActor).(string); ok {
		return actor
	}
	return ""
}
