package middleware

import (
	"context"
	"time"

	"fs-rpc/message"
)

// TimeOutMiddleware answers with a Timeout error when the handler runs longer than timeout.
// The handler keeps running in the background; its context is cancelled.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *message.Command) *message.Outcome {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Outcome, 1)
			go func() {
				done <- next(ctx, cmd)
			}()

			select {
			case out := <-done:
				return out
			case <-ctx.Done():
				return message.Failure(message.Errorf(message.Timeout, "%s timed out after %s", cmd.Method, timeout))
			}
		}
	}
}
