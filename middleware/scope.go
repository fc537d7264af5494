package middleware

import (
	"context"

	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/scope"
)

// Scope returns middleware that restores multi-tenant scope from the
// record's TenantID/InitiatedBy fields into the context. This ensures
// runners see the same tenant and user identity as the original
// submission caller.
func Scope() Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		ctx = scope.Restore(ctx, rec.TenantID, rec.InitiatedBy)
		return next(ctx)
	}
}
