// Package loadbalance picks which advertised contest server a client dials.
//
// Only one server owns the sessions at a time, so the balancer is used for
// failover: when the picked instance refuses the connection, the next dial
// attempt moves on to the next instance.
package loadbalance

import "contest-rpc/registry"

// Balancer is the interface for instance selection strategies.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
