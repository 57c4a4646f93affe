package middleware

import (
	"context"
	"runtime/debug"

	"contest-rpc/message"

	"github.com/sirupsen/logrus"
)

// RecoverMiddleware turns a handler panic into ERROR("internal error") so one
// bad request cannot take the connection's worker down.
func RecoverMiddleware(entry *logrus.Entry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					entry.WithFields(logrus.Fields{
						"type":  req.Type,
						"panic": r,
						"stack": string(debug.Stack()),
					}).Error("handler panicked")
					resp = message.NewErrorResponse("internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}
