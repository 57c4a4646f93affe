package client

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"contest-rpc/transport"

	"github.com/sirupsen/logrus"
)

// RetryPolicy controls dial retries. Only refused connections and timeouts
// are retried, waiting BaseDelay, 2*BaseDelay, 4*BaseDelay, ... in between.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// retryable reports whether a dial error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// retryDialer resolves and dials, retrying with exponential backoff.
func retryDialer(resolver Resolver, policy RetryPolicy, entry *logrus.Entry) transport.DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		for i := 0; ; i++ {
			addr, err := resolver.Resolve(ctx)
			if err != nil {
				return nil, err
			}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err == nil {
				return conn, nil
			}
			if i >= policy.MaxRetries || !retryable(err) || ctx.Err() != nil {
				return nil, err
			}

			delay := policy.BaseDelay * time.Duration(1<<i) // Exponential backoff
			entry.WithFields(logrus.Fields{
				"attempt": i + 1,
				"addr":    addr,
				"delay":   delay,
			}).WithError(err).Warn("dial failed, retrying")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}
}
