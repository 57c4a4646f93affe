// Package session tracks which identities are logged in and how to reach
// them with push notifications.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"contest-rpc/log"
	"contest-rpc/message"

	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNotLoggedIn     = errors.New("not logged in")
)

// Observer delivers push notifications to one logged-in client.
// Notify may be called from any goroutine.
type Observer interface {
	Notify(n *message.Response) error
}

// Registry maps identities to observers, one session per identity.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]Observer

	inflight sync.WaitGroup
	draining bool
	log      *logrus.Entry

	// OnDelivery, if set, is called after every broadcast delivery attempt.
	OnDelivery func(identity string, err error)
}

func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[string]Observer),
		log:       log.Component("session"),
	}
}

// Register adds identity unless it already has a session.
func (r *Registry) Register(identity string, obs Observer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.observers[identity]; ok {
		return ErrAlreadyLoggedIn
	}
	r.observers[identity] = obs
	return nil
}

// Unregister removes identity and returns its observer.
func (r *Registry) Unregister(identity string) (Observer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.observers[identity]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	delete(r.observers, identity)
	return obs, nil
}

// UnregisterIf removes identity only while it is still bound to obs. A
// connection cleaning up after itself uses this so it cannot drop a newer
// session of the same identity. obs must be comparable.
func (r *Registry) UnregisterIf(identity string, obs Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.observers[identity]; ok && cur == obs {
		delete(r.observers, identity)
		return true
	}
	return false
}

func (r *Registry) Lookup(identity string) (Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obs, ok := r.observers[identity]
	return obs, ok
}

// Identities returns the logged-in identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Broadcast delivers n to every registered observer except the excluded
// identities. Each delivery runs in its own goroutine; failures are logged
// and never reach the caller. Broadcast returns without waiting. After Drain
// has been called nothing is delivered and Broadcast returns 0.
func (r *Registry) Broadcast(n *message.Response, excluding ...string) int {
	skip := make(map[string]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}

	type target struct {
		id  string
		obs Observer
	}
	r.mu.RLock()
	if r.draining {
		r.mu.RUnlock()
		r.log.WithField("type", n.Type).Debug("registry draining, push dropped")
		return 0
	}
	targets := make([]target, 0, len(r.observers))
	for id, obs := range r.observers {
		if _, ok := skip[id]; !ok {
			targets = append(targets, target{id, obs})
		}
	}
	// Add under the lock so Drain never waits on a counter that can still grow
	r.inflight.Add(len(targets))
	r.mu.RUnlock()

	for _, tg := range targets {
		go r.deliver(tg.id, tg.obs, n)
	}
	return len(targets)
}

func (r *Registry) deliver(identity string, obs Observer, n *message.Response) {
	defer r.inflight.Done()

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("observer panicked: %v", p)
			}
		}()
		err = obs.Notify(n)
	}()

	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"user": identity, "type": n.Type}).Warn("push delivery failed")
	}
	if r.OnDelivery != nil {
		r.OnDelivery(identity, err)
	}
}

// Wait blocks until every delivery started so far has finished.
func (r *Registry) Wait() {
	r.inflight.Wait()
}

// Drain stops further broadcasts and waits, bounded by ctx, for the
// deliveries already started.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
