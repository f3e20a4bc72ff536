// Package middleware wraps the server's command handler.
//
// Middlewares form an onion around the dispatcher's invoke step:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// A middleware may answer a command itself (rate limited, duplicate, timed out) by
// returning an Outcome without calling next.
package middleware

import (
	"context"

	"fs-rpc/message"
)

type HandlerFunc func(ctx context.Context, cmd *message.Command) *message.Outcome

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
