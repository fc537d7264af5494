// Package scope provides helpers to capture and restore multi-tenant
// execution context (tenant and user identity) from/to context.Context.
//
// The engine captures the caller's scope at submission and restores it
// around each processing attempt, so runners and middleware see the
// same tenant and user as the submitter.
package scope

import "context"

type ctxKey int

const (
	tenantKey ctxKey = iota
	userKey
)

// WithTenant attaches a tenant identifier to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithUser attaches a user identifier to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// Capture extracts the tenant and user identifiers from the context.
// Returns empty strings for whichever is not present.
func Capture(ctx context.Context) (tenantID, userID string) {
	if v, ok := ctx.Value(tenantKey).(string); ok {
		tenantID = v
	}
	if v, ok := ctx.Value(userKey).(string); ok {
		userID = v
	}
	return tenantID, userID
}

// Restore attaches tenant and user identity to the context. If both are
// empty, the context is returned unchanged.
func Restore(ctx context.Context, tenantID, userID string) context.Context {
	if tenantID == "" && userID == "" {
		return ctx
	}
	return WithUser(WithTenant(ctx, tenantID), userID)
}
