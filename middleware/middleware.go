// Package middleware wraps request handlers in onion layers (logging,
// timeouts, rate limits, panic recovery).
package middleware

import (
	"context"

	"contest-rpc/message"
)

// HandlerFunc handles one request. It always returns a response; failures
// are ERROR responses.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

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
