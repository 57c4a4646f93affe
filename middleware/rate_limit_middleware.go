package middleware

import (
	"context"

	"contest-rpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
// A non-positive r disables limiting.
func RateLimitMiddleware(r float64, burst int) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if r <= 0 {
			return next
		}
		limiter := rate.NewLimiter(rate.Limit(r), burst)
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewErrorResponse("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
