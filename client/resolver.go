package client

import (
	"context"

	"contest-rpc/loadbalance"
	"contest-rpc/registry"

	"github.com/pkg/errors"
)

// Resolver picks the server address for the next dial attempt.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always returns the same address.
type StaticResolver string

func (r StaticResolver) Resolve(ctx context.Context) (string, error) {
	return string(r), nil
}

// RegistryResolver looks the service up in a registry on every attempt and
// lets the balancer choose. With a round-robin balancer a refused dial moves
// on to the next advertised instance.
type RegistryResolver struct {
	Registry    registry.Registry
	ServiceName string
	Balancer    loadbalance.Balancer
}

func NewRegistryResolver(reg registry.Registry, serviceName string) *RegistryResolver {
	return &RegistryResolver{
		Registry:    reg,
		ServiceName: serviceName,
		Balancer:    &loadbalance.RoundRobinBalancer{},
	}
}

func (r *RegistryResolver) Resolve(ctx context.Context) (string, error) {
	instances, err := r.Registry.Discover(ctx, r.ServiceName)
	if err != nil {
		return "", errors.Wrapf(err, "discover %s", r.ServiceName)
	}
	instance, err := r.Balancer.Pick(instances)
	if err != nil {
		return "", errors.Wrapf(err, "pick %s instance", r.ServiceName)
	}
	return instance.Addr, nil
}
