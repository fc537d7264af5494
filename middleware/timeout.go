package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Timeout returns middleware that enforces the per-attempt time budget.
// The job's own TimeoutBudget takes precedence; defaultBudget applies
// when it is zero. When the deadline is exceeded the context is
// cancelled and the runner should return context.DeadlineExceeded.
//
// The store-level watchdog remains the backstop for workers that die
// without unwinding this middleware.
func Timeout(logger *slog.Logger, defaultBudget time.Duration) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		budget := rec.TimeoutBudget
		if budget <= 0 {
			budget = defaultBudget
		}
		if budget > 0 {
			logger.Debug("attempt budget set",
				slog.String("job_id", rec.ID.String()),
				slog.Duration("budget", budget),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}
		return next(ctx)
	}
}
