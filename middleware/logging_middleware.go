package middleware

import (
	"context"
	"time"

	"contest-rpc/message"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs the type, outcome and duration of every request.
func LoggingMiddleware(entry *logrus.Entry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := logrus.Fields{
				"type":     req.Type,
				"reply":    resp.Type,
				"duration": time.Since(start),
			}
			if resp.Type == message.ResponseError {
				entry.WithFields(fields).WithField("error", resp.Error).Warn("request failed")
			} else {
				entry.WithFields(fields).Debug("request handled")
			}
			return resp
		}
	}
}
