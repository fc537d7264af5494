package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so a
// crashing runner fails the attempt instead of taking down the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("runner panicked",
					slog.String("job_id", rec.ID.String()),
					slog.String("model_type", string(rec.ModelType)),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in runner for job %s: %v", rec.ID, r)
			}
		}()
		return next(ctx)
	}
}
