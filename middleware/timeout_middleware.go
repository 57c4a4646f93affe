package middleware

import (
	"context"
	"time"

	"contest-rpc/message"
)

type result struct {
	resp     *message.Response
	panicked any
}

// TimeOutMiddleware answers ERROR("request timed out") when the handler takes
// longer than timeout. Exempt request types always run to completion; use it
// for requests whose side effects must stay in step with the reply, such as
// LOGIN registering a session.
func TimeOutMiddleware(timeout time.Duration, exempt ...message.RequestType) Middleware {
	skip := make(map[message.RequestType]bool, len(exempt))
	for _, t := range exempt {
		skip[t] = true
	}
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.Request) *message.Response {
			if skip[req.Type] {
				return next(ctx, req)
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// a panic in the handler goroutine is handed back and re-raised
			// here, where the caller's recover can see it
			done := make(chan result, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						done <- result{panicked: p}
					}
				}()
				done <- result{resp: next(ctx, req)}
			}()

			select {
			case res := <-done:
				if res.panicked != nil {
					panic(res.panicked)
				}
				return res.resp
			case <-ctx.Done():
				return message.NewErrorResponse("request timed out")
			}
		}
	}
}
