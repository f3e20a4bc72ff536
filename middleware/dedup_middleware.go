package middleware

import (
	"context"

	"fs-rpc/dedup"
	"fs-rpc/message"

	"golang.org/x/sync/singleflight"
)

// DedupMiddleware remembers the outcome of every command id, so a command the client
// resends after a lost response is answered from the store instead of running again.
// Concurrent copies of one id (old and new connection racing) share a single execution.
//
// Timeout and RateLimited outcomes are not remembered: the first means the operation
// may still be running, the second means it never ran.
func DedupMiddleware(store dedup.Store) Middleware {
	var group singleflight.Group
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *message.Command) *message.Outcome {
			if out, ok := store.Load(cmd.ID); ok {
				return out
			}
			v, _, _ := group.Do(cmd.ID.String(), func() (any, error) {
				if out, ok := store.Load(cmd.ID); ok {
					return out, nil
				}
				out := next(ctx, cmd)
				if out.Error == nil || (out.Error.Kind != message.Timeout && out.Error.Kind != message.RateLimited) {
					store.Store(cmd.ID, out)
				}
				return out, nil
			})
			return v.(*message.Outcome)
		}
	}
}
