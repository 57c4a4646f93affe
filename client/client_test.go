package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"contest-rpc/codec"
	"contest-rpc/message"
	"contest-rpc/model"
	"contest-rpc/registry"
	"contest-rpc/server"
	"contest-rpc/service"
	"contest-rpc/session"
	"contest-rpc/store"
	"contest-rpc/transport"
)

// ---- 测试用的观察者 ----

type watcher struct {
	mu       sync.Mutex
	added    []*model.Participant
	addedCh  chan struct{}
	shutdown chan struct{}
}

func newWatcher() *watcher {
	return &watcher{addedCh: make(chan struct{}, 16), shutdown: make(chan struct{})}
}

func (w *watcher) ParticipantAdded(p *model.Participant) error {
	w.mu.Lock()
	w.added = append(w.added, p)
	w.mu.Unlock()
	w.addedCh <- struct{}{}
	return nil
}

func (w *watcher) ServerShutdown() {
	close(w.shutdown)
}

// newServer builds a seeded server that shuts down when the test ends.
func newServer(t *testing.T, opts server.Options) *server.Server {
	t.Helper()
	st := store.NewMemoryStore()
	if err := store.DefaultSeed().Apply(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer(service.NewContestService(st, nil, session.NewRegistry()), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	})
	return svr
}

func startServer(t *testing.T, ln net.Listener) *server.Server {
	t.Helper()
	svr := newServer(t, server.Options{})
	go svr.ServeListener(ln)
	return svr
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func newTestClient(addr string, obs transport.Observer) *Client {
	return NewClient(StaticResolver(addr), obs, Options{})
}

func TestClientQueries(t *testing.T) {
	ln := listen(t)
	startServer(t, ln)
	ctx := context.Background()

	c := newTestClient(ln.Addr().String(), nil)
	user, err := c.Login(ctx, "alice", "pw1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Username != "alice" || c.User() == nil {
		t.Fatalf("unexpected user: %+v", user)
	}

	races, err := c.FindAllRaces(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(races) != 4 {
		t.Fatalf("expect 4 races, got %v", races)
	}

	capacities, err := c.FindAllRaceEngineCapacities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(capacities) != 4 || capacities[3] != 500 {
		t.Fatalf("unexpected capacities: %v", capacities)
	}

	ps, err := c.FindParticipantsByTeam(ctx, "Suzuki")
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 || ps[0].FirstName != "Ion" {
		t.Fatalf("unexpected participants: %v", ps)
	}

	_, err = c.FindParticipantsByTeam(ctx, "Yamaha")
	var re *message.RemoteError
	if !errors.As(err, &re) || re.Message != service.ErrTeamNotFound.Error() {
		t.Fatalf("expect team not found, got %v", err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != transport.StateDisconnected {
		t.Fatalf("expect disconnected, got %s", c.State())
	}
	if _, err := c.FindAllRaces(ctx); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expect ErrNotConnected after logout, got %v", err)
	}
}

// alice 已登录时，用错误密码再次登录应得到 "already logged in"
func TestSecondLoginRejected(t *testing.T) {
	ln := listen(t)
	startServer(t, ln)
	ctx := context.Background()

	first := newTestClient(ln.Addr().String(), nil)
	if _, err := first.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	second := newTestClient(ln.Addr().String(), nil)
	_, err := second.Login(ctx, "alice", "pw2")
	var re *message.RemoteError
	if !errors.As(err, &re) || re.Message != "already logged in" {
		t.Fatalf("expect already logged in, got %v", err)
	}
	if second.State() != transport.StateDisconnected {
		t.Fatalf("expect the rejected client to disconnect, got %s", second.State())
	}
}

func TestAddParticipantReachesOtherClient(t *testing.T) {
	ln := listen(t)
	startServer(t, ln)
	ctx := context.Background()

	wa, wb := newWatcher(), newWatcher()
	a := newTestClient(ln.Addr().String(), wa)
	b := NewClient(StaticResolver(ln.Addr().String()), wb, Options{Codec: codec.CodecTypeBinary})
	if _, err := a.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, err := b.Login(ctx, "bob", "pw2"); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	p, err := a.AddParticipant(ctx, "Dan", "Matei", "Yamaha", 500)
	if err != nil {
		t.Fatal(err)
	}

	for name, w := range map[string]*watcher{"alice": wa, "bob": wb} {
		select {
		case <-w.addedCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not receive PARTICIPANT_ADDED", name)
		}
		w.mu.Lock()
		got := w.added[0]
		w.mu.Unlock()
		if got.ID != p.ID || got.Team != "Yamaha" {
			t.Fatalf("%s got %+v, want %+v", name, got, p)
		}
	}

	// the new team is visible to the other client
	ps, err := b.FindParticipantsByTeam(ctx, "Yamaha")
	if err != nil || len(ps) != 1 {
		t.Fatalf("expect the new participant, got %v, %v", ps, err)
	}
}

func TestShutdownReachesIdleClients(t *testing.T) {
	ln := listen(t)
	svr := startServer(t, ln)
	ctx := context.Background()

	wa, wb := newWatcher(), newWatcher()
	a := newTestClient(ln.Addr().String(), wa)
	b := newTestClient(ln.Addr().String(), wb)
	if _, err := a.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Login(ctx, "carol", "pw3"); err != nil {
		t.Fatal(err)
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svr.Shutdown(sctx); err != nil {
		t.Fatal(err)
	}

	for _, c := range []struct {
		cl *Client
		w  *watcher
	}{{a, wa}, {b, wb}} {
		select {
		case <-c.w.shutdown:
		case <-time.After(2 * time.Second):
			t.Fatal("client was not told about the shutdown")
		}
		<-c.cl.Done()
		if c.cl.State() != transport.StateDisconnected {
			t.Fatalf("expect disconnected, got %s", c.cl.State())
		}
	}
}

func TestDialRetriesUntilServerIsUp(t *testing.T) {
	// reserve a port, then free it so the first attempts are refused
	ln := listen(t)
	addr := ln.Addr().String()
	ln.Close()

	svr := newServer(t, server.Options{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			t.Errorf("relisten: %v", err)
			return
		}
		svr.ServeListener(ln)
	}()

	c := NewClient(StaticResolver(addr), nil, Options{
		Retry: RetryPolicy{MaxRetries: 8, BaseDelay: 20 * time.Millisecond},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Login(ctx, "bob", "pw2"); err != nil {
		t.Fatalf("expect login after retries, got %v", err)
	}
	c.Close()
}

func TestDialWithoutRetryFailsFast(t *testing.T) {
	ln := listen(t)
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(addr, nil)
	if _, err := c.Login(context.Background(), "bob", "pw2"); err == nil {
		t.Fatal("expect dial error")
	}
	if c.State() != transport.StateDisconnected {
		t.Fatalf("expect disconnected, got %s", c.State())
	}
}

type countingResolver struct {
	n   int
	err error
}

func (r *countingResolver) Resolve(ctx context.Context) (string, error) {
	r.n++
	return "", r.err
}

func TestResolveErrorIsNotRetried(t *testing.T) {
	r := &countingResolver{err: errors.New("no instances")}
	c := NewClient(r, nil, Options{Retry: RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}})
	if _, err := c.Login(context.Background(), "bob", "pw2"); err == nil {
		t.Fatal("expect resolve error")
	}
	if r.n != 1 {
		t.Fatalf("expect one resolve attempt, got %d", r.n)
	}
}

// ---- 测试用的注册中心 ----

type mockRegistry struct {
	mu        sync.Mutex
	instances map[string][]registry.ServiceInstance
}

func (m *mockRegistry) Register(ctx context.Context, serviceName string, instance registry.ServiceInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances == nil {
		m.instances = make(map[string][]registry.ServiceInstance)
	}
	m.instances[serviceName] = append(m.instances[serviceName], instance)
	return nil
}

func (m *mockRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.instances[serviceName]
	for i, inst := range list {
		if inst.Addr == addr {
			m.instances[serviceName] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockRegistry) Discover(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registry.ServiceInstance(nil), m.instances[serviceName]...), nil
}

func (m *mockRegistry) Watch(ctx context.Context, serviceName string) <-chan []registry.ServiceInstance {
	ch := make(chan []registry.ServiceInstance)
	close(ch)
	return ch
}

func TestRegistryResolverFailsOver(t *testing.T) {
	reg := &mockRegistry{}

	dead := listen(t)
	deadAddr := dead.Addr().String()
	dead.Close()
	reg.Register(context.Background(), "contest", registry.ServiceInstance{Addr: deadAddr}, 10)

	// the live server advertises itself
	ln := listen(t)
	svr := newServer(t, server.Options{Registry: reg, ServiceName: "contest"})
	go svr.ServeListener(ln)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := reg.Discover(context.Background(), "contest")
		if len(got) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not register")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c := NewClient(NewRegistryResolver(reg, "contest"), nil, Options{
		Retry: RetryPolicy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
	})
	if _, err := c.Login(context.Background(), "alice", "pw1"); err != nil {
		t.Fatalf("expect failover to the live instance, got %v", err)
	}
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svr.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := reg.Discover(ctx, "contest"); len(got) != 1 || got[0].Addr != deadAddr {
		t.Fatalf("expect the server to deregister, left %v", got)
	}
}
