// Package transport implements the connection wrapper shared by both sides and
// the client-side transport with its reader goroutine and push demultiplexer.
//
// A client keeps at most one call in flight. The caller parks on a single-slot
// reply channel while the reader goroutine owns the socket's read side:
//
//	caller ──Send(LOGIN, seq=1)──→ Conn ──→ Server
//	                                       │
//	recvLoop ←── PARTICIPANT_ADDED(seq=0) ─┤  push   → Observer.ParticipantAdded
//	         ←── OK(seq=1) ────────────────┘  reply  → reply slot → caller wakes up
//
// Push tags are recognised through message.ResponseType.IsPush, never by
// position in the stream, so a push that arrives between a request and its
// reply cannot be mistaken for the reply.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"contest-rpc/codec"
	"contest-rpc/log"
	"contest-rpc/message"
	"contest-rpc/model"
	"contest-rpc/protocol"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrUnexpectedReply  = errors.New("transport: unexpected reply")
)

// State is the lifecycle state of a ClientTransport.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DialFunc opens the socket to the server.
type DialFunc func(ctx context.Context) (net.Conn, error)

// TCPDialer returns a DialFunc for a fixed address.
func TCPDialer(addr string) DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Observer receives what the server sends without being asked.
// Callbacks run on the reader goroutine and should return quickly.
type Observer interface {
	ParticipantAdded(p *model.Participant) error
	ServerShutdown()
}

type pushHandler func(o Observer, resp *message.Response) error

// pushHandlers must have an entry for every tag in message.PushTypes().
var pushHandlers = map[message.ResponseType]pushHandler{
	message.ResponseParticipantAdded: func(o Observer, resp *message.Response) error {
		return o.ParticipantAdded(resp.Participant)
	},
}

// Options tune a ClientTransport. The zero value is usable.
type Options struct {
	Codec        codec.CodecType
	Heartbeat    time.Duration // 0 disables heartbeats
	MaxBodyLen   uint32
	WriteTimeout time.Duration
}

type reply struct {
	seq  uint32
	resp *message.Response
}

// ClientTransport owns the connection of one logged-in client.
type ClientTransport struct {
	dial     DialFunc
	observer Observer
	opts     Options
	codec    codec.Codec
	log      *logrus.Entry

	mu    sync.Mutex // guards state, conn and done
	state State
	conn  *Conn
	done  chan struct{} // closed when the reader goroutine exits

	callMu  sync.Mutex // one call in flight
	seq     uint32     // last seq issued, guarded by callMu
	pending atomic.Uint32
	slot    chan reply
}

// NewClientTransport creates a disconnected transport. observer may be nil,
// in which case pushes are dropped.
func NewClientTransport(dial DialFunc, observer Observer, opts Options) *ClientTransport {
	return &ClientTransport{
		dial:     dial,
		observer: observer,
		opts:     opts,
		codec:    codec.GetCodec(opts.Codec),
		log:      log.Component("transport"),
		slot:     make(chan reply, 1),
	}
}

func (t *ClientTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the reader goroutine of the latest connection exits.
// It is nil before the first Login.
func (t *ClientTransport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Login dials the server, starts the reader, and sends LOGIN. On any failure
// the connection is torn down before returning.
func (t *ClientTransport) Login(ctx context.Context, username, password string) (*model.User, error) {
	t.mu.Lock()
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	t.state = StateConnecting
	t.mu.Unlock()

	nc, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		return nil, err
	}

	conn := NewConn(nc)
	conn.MaxBodyLen = t.opts.MaxBodyLen
	conn.WriteTimeout = t.opts.WriteTimeout
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	go t.recvLoop(conn, done)
	if t.opts.Heartbeat > 0 {
		go t.heartbeatLoop(conn, done, t.opts.Heartbeat)
	}

	resp, err := t.roundTrip(ctx, conn, done, message.NewLoginRequest(username, password))
	if err == nil {
		err = resp.Err()
	}
	if err == nil && (resp.Type != message.ResponseOK || resp.User == nil) {
		err = fmt.Errorf("%w: %s to LOGIN", ErrUnexpectedReply, resp.Type)
	}
	if err != nil {
		t.teardown(conn, done)
		return nil, err
	}

	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return nil, ErrConnClosed
	}
	t.state = StateConnected
	t.mu.Unlock()
	t.log.WithField("user", resp.User.Username).Info("logged in")
	return resp.User, nil
}

// Logout sends LOGOUT and always closes the connection afterwards. The
// returned error reports the server's answer; local resources are freed
// either way.
func (t *ClientTransport) Logout(ctx context.Context, user *model.User) error {
	conn, done, err := t.current()
	if err != nil {
		return err
	}

	resp, err := t.roundTrip(ctx, conn, done, message.NewLogoutRequest(user))
	if err == nil {
		err = resp.Err()
	}

	t.setState(StateClosing)
	t.teardown(conn, done)
	return err
}

// Call sends req and waits for the next reply that is not a push.
// An ERROR reply is returned as a response, not as an error; errors are
// reserved for local failures (not connected, send failure, ctx done).
func (t *ClientTransport) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	conn, done, err := t.current()
	if err != nil {
		return nil, err
	}
	return t.roundTrip(ctx, conn, done, req)
}

// Close drops the connection without sending LOGOUT.
func (t *ClientTransport) Close() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.teardown(conn, done)
	return nil
}

func (t *ClientTransport) current() (*Conn, chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected {
		return nil, nil, ErrNotConnected
	}
	return t.conn, t.done, nil
}

func (t *ClientTransport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *ClientTransport) roundTrip(ctx context.Context, conn *Conn, done chan struct{}, req *message.Request) (*message.Response, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	t.seq++
	if t.seq == 0 { // 0 is reserved for pushes
		t.seq++
	}
	seq := t.seq

	// Drop anything a previous, abandoned call left in the slot.
	select {
	case <-t.slot:
	default:
	}
	t.pending.Store(seq)
	defer t.pending.Store(0)

	if err := conn.Send(protocol.MsgTypeRequest, seq, t.codec, req); err != nil {
		return nil, err
	}

	for {
		select {
		case r := <-t.slot:
			if r.seq != seq {
				t.log.WithField("seq", r.seq).Debug("dropping stale reply")
				continue
			}
			return r.resp, nil
		case <-done:
			// The reader may have filled the slot just before exiting.
			select {
			case r := <-t.slot:
				if r.seq == seq {
					return r.resp, nil
				}
			default:
			}
			return nil, ErrConnClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// deliver hands resp to the caller waiting for seq, if any.
func (t *ClientTransport) deliver(seq uint32, resp *message.Response) {
	if seq == 0 || t.pending.Load() != seq {
		t.log.WithFields(logrus.Fields{"seq": seq, "type": resp.Type}).Debug("no caller waiting for reply")
		return
	}
	select {
	case t.slot <- reply{seq: seq, resp: resp}:
	default:
		t.log.WithField("seq", seq).Warn("reply slot full, dropping reply")
	}
}

// deliverError surfaces a failure to whichever caller is currently blocked.
func (t *ClientTransport) deliverError(msg string) {
	if seq := t.pending.Load(); seq != 0 {
		t.deliver(seq, message.NewErrorResponse(msg))
	}
}

func (t *ClientTransport) recvLoop(conn *Conn, done chan struct{}) {
	defer close(done)
	for {
		var resp message.Response
		h, err := conn.Receive(&resp)
		if err != nil {
			if h != nil && !protocol.IsFatal(err) {
				t.log.WithError(err).Warn("malformed response")
				t.deliver(h.Seq, message.NewErrorResponse(err.Error()))
				continue
			}
			if !errors.Is(err, ErrConnClosed) {
				t.log.WithError(err).Error("connection lost")
			}
			t.deliverError(fmt.Sprintf("connection lost: %v", err))
			t.connLost(conn)
			return
		}

		switch {
		case resp.Type == message.ResponseConnectionClosed:
			t.log.Info("server is shutting down")
			if t.observer != nil {
				t.observer.ServerShutdown()
			}
			t.deliverError("server shut down")
			t.connLost(conn)
			return
		case resp.IsPush():
			t.dispatchPush(&resp)
		default:
			t.deliver(h.Seq, &resp)
		}
	}
}

func (t *ClientTransport) dispatchPush(resp *message.Response) {
	if t.observer == nil {
		return
	}
	handler, ok := pushHandlers[resp.Type]
	if !ok {
		t.log.WithField("type", resp.Type).Warn("no handler for push")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.WithField("panic", r).Error("push handler panicked")
		}
	}()
	if err := handler(t.observer, resp); err != nil {
		t.log.WithError(err).WithField("type", resp.Type).Warn("push handler failed")
	}
}

// connLost closes conn and, if it is still the current connection, resets
// the transport to Disconnected.
func (t *ClientTransport) connLost(conn *Conn) {
	conn.Close()
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.state = StateDisconnected
	}
	t.mu.Unlock()
}

// teardown closes conn and waits for its reader goroutine to finish.
func (t *ClientTransport) teardown(conn *Conn, done chan struct{}) {
	t.connLost(conn)
	<-done
}

// heartbeatLoop sends periodic heartbeat frames so the server's idle timeout
// does not reap a client that is merely quiet.
func (t *ClientTransport) heartbeatLoop(conn *Conn, done chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.SendHeartbeat(); err != nil {
				return
			}
		}
	}
}
