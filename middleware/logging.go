package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		logger.Info("attempt started",
			slog.String("job_id", rec.ID.String()),
			slog.String("model_type", string(rec.ModelType)),
			slog.String("tenant_id", rec.TenantID),
			slog.Int("attempt", rec.AttemptCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("attempt failed",
				slog.String("job_id", rec.ID.String()),
				slog.String("model_type", string(rec.ModelType)),
				slog.Int("attempt", rec.AttemptCount),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("attempt completed",
				slog.String("job_id", rec.ID.String()),
				slog.String("model_type", string(rec.ModelType)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
