package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"contest-rpc/codec"
	"contest-rpc/protocol"
)

// ErrConnClosed is returned by every operation on a Conn after Close.
var ErrConnClosed = errors.New("transport: connection closed")

// Conn wraps one live socket with framed read/write primitives.
//
// Writers are serialized by a mutex and every frame is flushed before the
// lock is released, so a frame is never left half-buffered. Only one
// goroutine may read at a time; Close may be called from anywhere and
// unblocks a parked read or write.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer

	// MaxBodyLen bounds incoming frames; 0 means protocol.DefaultMaxBodyLen.
	MaxBodyLen uint32
	// ReadTimeout is the longest a receive may wait for the next frame; 0 disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds one frame write; 0 disables it.
	WriteTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		r:      bufio.NewReader(conn),
		w:      bufio.NewWriter(conn),
		closed: make(chan struct{}),
	}
}

// SendFrame writes one complete frame and flushes it.
func (c *Conn) SendFrame(h *protocol.Header, body []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.isClosed() {
		return ErrConnClosed
	}
	if c.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if err := protocol.Encode(c.w, h, body); err != nil {
		return c.wrapErr(err)
	}
	if err := c.w.Flush(); err != nil {
		return c.wrapErr(err)
	}
	return nil
}

// ReceiveFrame blocks until one complete frame has been read.
func (c *Conn) ReceiveFrame() (*protocol.Header, []byte, error) {
	if c.isClosed() {
		return nil, nil, ErrConnClosed
	}
	if c.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	}
	maxLen := c.MaxBodyLen
	if maxLen == 0 {
		maxLen = protocol.DefaultMaxBodyLen
	}
	h, body, err := protocol.DecodeLimit(c.r, maxLen)
	if err != nil {
		return nil, nil, c.wrapErr(err)
	}
	return h, body, nil
}

// Send encodes v with cdc and writes it as one frame.
func (c *Conn) Send(msgType protocol.MsgType, seq uint32, cdc codec.Codec, v any) error {
	body, err := cdc.Encode(v)
	if err != nil {
		return err
	}
	return c.SendFrame(&protocol.Header{
		CodecType: byte(cdc.Type()),
		MsgType:   msgType,
		Seq:       seq,
	}, body)
}

// SendHeartbeat writes an empty heartbeat frame.
func (c *Conn) SendHeartbeat() error {
	return c.SendFrame(&protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
}

// Receive reads the next non-heartbeat frame and decodes its body into v
// using the codec named in the frame header.
//
// When the frame is intact but the payload is not, the header is returned
// together with a non-fatal *protocol.ProtocolError so the caller can still
// answer that seq.
func (c *Conn) Receive(v any) (*protocol.Header, error) {
	for {
		h, body, err := c.ReceiveFrame()
		if err != nil {
			return nil, err
		}
		if h.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if err := codec.GetCodec(codec.CodecType(h.CodecType)).Decode(body, v); err != nil {
			return h, err
		}
		return h, nil
	}
}

// Close closes the socket. It is idempotent and safe from any goroutine.
func (c *Conn) Close() error {
	err := ErrConnClosed
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Closed is closed once Close has been called.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// wrapErr maps I/O failures caused by our own Close to ErrConnClosed.
// A clean io.EOF from the peer is passed through as the end-of-stream signal.
func (c *Conn) wrapErr(err error) error {
	if c.isClosed() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrConnClosed
	}
	return err
}
