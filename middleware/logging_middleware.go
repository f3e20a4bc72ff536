package middleware

import (
	"context"
	"time"

	"fs-rpc/message"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *message.Command) *message.Outcome {
			start := time.Now()
			out := next(ctx, cmd)
			fields := []zap.Field{
				zap.String("method", cmd.Method),
				zap.Stringer("id", cmd.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if out.Error != nil {
				logger.Info("command failed", append(fields,
					zap.String("kind", string(out.Error.Kind)),
					zap.String("error", out.Error.Message))...)
				return out
			}
			logger.Debug("command done", fields...)
			return out
		}
	}
}
