package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/stapel-ai/stapel/pkg/api"
)

// Logging returns middleware that emits structured log entries for each
// batch run. The log entry includes the request ID (from context), model,
// row count, duration, and whether the run succeeded or failed.
//
// HTTP-level details (status codes, paths) are not available at the
// BatchRunner level; the HTTP adapter carries its own logging.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next BatchRunner) BatchRunner {
		return BatchRunnerFunc(func(ctx context.Context, req *api.BatchRequest, w RunWriter) error {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			err := next.RunBatch(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("model", req.Model),
				slog.Int("rows", len(req.Rows)),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "batch run failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "batch run completed", attrs...)
			}

			return err
		})
	}
}
