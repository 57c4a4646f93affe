package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"contest-rpc/message"
	"contest-rpc/model"
)

type countingObserver struct {
	got atomic.Int32
}

func (o *countingObserver) Notify(n *message.Response) error {
	o.got.Add(1)
	return nil
}

type blockingObserver struct {
	release chan struct{}
}

func (o *blockingObserver) Notify(n *message.Response) error {
	<-o.release
	return nil
}

type failingObserver struct {
	panics bool
}

func (o *failingObserver) Notify(n *message.Response) error {
	if o.panics {
		panic("observer exploded")
	}
	return errors.New("broken pipe")
}

func push() *message.Response {
	return message.NewParticipantAddedResponse(&model.Participant{FirstName: "Ana", Team: "Honda", EngineCapacity: 125})
}

func TestRegisterDuplicateConcurrent(t *testing.T) {
	r := NewRegistry()

	const n = 50
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := r.Register("alice", &countingObserver{}); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyLoggedIn):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || dup.Load() != n-1 {
		t.Fatalf("expect exactly one winner, got ok=%d dup=%d", ok.Load(), dup.Load())
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	obs := &countingObserver{}
	if err := r.Register("alice", obs); err != nil {
		t.Fatal(err)
	}

	got, err := r.Unregister("alice")
	if err != nil || got != obs {
		t.Fatalf("unexpected unregister result: %v, %v", got, err)
	}
	if _, err := r.Unregister("alice"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expect ErrNotLoggedIn, got %v", err)
	}
	if err := r.Register("alice", obs); err != nil {
		t.Fatalf("identity should be free again: %v", err)
	}
}

func TestUnregisterIfKeepsNewerSession(t *testing.T) {
	r := NewRegistry()
	old, cur := &countingObserver{}, &countingObserver{}
	r.Register("alice", cur)

	if r.UnregisterIf("alice", old) {
		t.Fatal("must not remove a session bound to another observer")
	}
	if _, ok := r.Lookup("alice"); !ok {
		t.Fatal("session disappeared")
	}
	if !r.UnregisterIf("alice", cur) {
		t.Fatal("expect removal for the bound observer")
	}
}

func TestBroadcastIsolation(t *testing.T) {
	r := NewRegistry()

	blocked := &blockingObserver{release: make(chan struct{})}
	defer close(blocked.release)
	r.Register("slow", blocked)
	r.Register("broken", &failingObserver{})
	r.Register("panicky", &failingObserver{panics: true})

	healthy := make([]*countingObserver, 3)
	for i := range healthy {
		healthy[i] = &countingObserver{}
		r.Register(fmt.Sprintf("user%d", i), healthy[i])
	}

	var failures atomic.Int32
	delivered := make(chan string, 16)
	r.OnDelivery = func(identity string, err error) {
		if err != nil {
			failures.Add(1)
		}
		delivered <- identity
	}

	start := time.Now()
	if n := r.Broadcast(push()); n != 6 {
		t.Fatalf("expect 6 targets, got %d", n)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Broadcast must not wait for observers")
	}

	// everyone but the blocked observer finishes
	for i := 0; i < 5; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("a blocked observer held up the others")
		}
	}
	for i, o := range healthy {
		if o.got.Load() != 1 {
			t.Errorf("observer %d got %d notifications", i, o.got.Load())
		}
	}
	if failures.Load() != 2 {
		t.Errorf("expect 2 failed deliveries, got %d", failures.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain should time out while one delivery is blocked, got %v", err)
	}
}

func TestBroadcastExcluding(t *testing.T) {
	r := NewRegistry()
	a, b := &countingObserver{}, &countingObserver{}
	r.Register("a", a)
	r.Register("b", b)

	if n := r.Broadcast(push(), "a"); n != 1 {
		t.Fatalf("expect 1 target, got %d", n)
	}
	r.Wait()
	if a.got.Load() != 0 || b.got.Load() != 1 {
		t.Fatalf("unexpected deliveries: a=%d b=%d", a.got.Load(), b.got.Load())
	}
}

func TestIdentitiesSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		r.Register(id, &countingObserver{})
	}
	ids := r.Identities()
	if len(ids) != 3 || ids[0] != "alice" || ids[2] != "carol" || r.Len() != 3 {
		t.Fatalf("unexpected identities: %v", ids)
	}
}

func TestBroadcastAfterDrain(t *testing.T) {
	r := NewRegistry()
	a := &countingObserver{}
	r.Register("a", a)

	if err := r.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := r.Broadcast(push()); n != 0 {
		t.Fatalf("expect no targets after Drain, got %d", n)
	}
	r.Wait()
	if a.got.Load() != 0 {
		t.Fatalf("unexpected delivery after Drain: %d", a.got.Load())
	}
}
