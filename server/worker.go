package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"contest-rpc/codec"
	"contest-rpc/message"
	"contest-rpc/middleware"
	"contest-rpc/model"
	"contest-rpc/protocol"
	"contest-rpc/transport"

	"github.com/sirupsen/logrus"
)

// noticeTimeout bounds the CONNECTION_CLOSED write during shutdown.
const noticeTimeout = time.Second

// worker serves one client connection. It reads frames on a single
// goroutine and doubles as the session.Observer for the user logged in on
// that connection.
type worker struct {
	svr     *Server
	conn    *transport.Conn
	handler middleware.HandlerFunc
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	user  *model.User
	codec codec.Codec // codec of the last request, used for pushes
}

func newWorker(svr *Server, conn *transport.Conn) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		svr:    svr,
		conn:   conn,
		log:    svr.log.WithField("remote", conn.RemoteAddr().String()),
		ctx:    ctx,
		cancel: cancel,
		codec:  codec.GetCodec(codec.CodecTypeJSON),
	}
	w.handler = svr.buildHandler(w.dispatch)
	return w
}

// Notify pushes n to this connection. Pushes carry seq 0.
func (w *worker) Notify(n *message.Response) error {
	return w.conn.Send(protocol.MsgTypeResponse, 0, w.currentCodec(), n)
}

func (w *worker) currentUser() *model.User {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.user
}

func (w *worker) setUser(u *model.User) {
	w.mu.Lock()
	w.user = u
	w.mu.Unlock()
}

func (w *worker) currentCodec() codec.Codec {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.codec
}

func (w *worker) setCodec(codecType byte) {
	w.mu.Lock()
	if byte(w.codec.Type()) != codecType {
		w.codec = codec.GetCodec(codec.CodecType(codecType))
	}
	w.mu.Unlock()
}

func (w *worker) reply(seq uint32, resp *message.Response) error {
	return w.conn.Send(protocol.MsgTypeResponse, seq, w.currentCodec(), resp)
}

func (w *worker) serve() {
	defer w.cleanup()
	w.log.Debug("connection accepted")

	for {
		var req message.Request
		h, err := w.conn.Receive(&req)
		if err != nil {
			if h != nil && !protocol.IsFatal(err) {
				// The frame was intact; answer its seq and keep going.
				w.svr.metrics.protocolError(false)
				w.log.WithError(err).Warn("malformed request")
				w.setCodec(h.CodecType)
				if err := w.reply(h.Seq, message.NewErrorResponse(err.Error())); err != nil {
					return
				}
				continue
			}
			w.readFailed(err)
			return
		}

		w.setCodec(h.CodecType)
		if h.MsgType != protocol.MsgTypeRequest {
			w.log.WithField("msg_type", h.MsgType).Warn("unexpected frame from client")
			if err := w.reply(h.Seq, message.NewErrorResponse(fmt.Sprintf("unexpected %s frame", h.MsgType))); err != nil {
				return
			}
			continue
		}

		resp := w.handler(w.ctx, &req)
		if err := w.reply(h.Seq, resp); err != nil {
			if !errors.Is(err, transport.ErrConnClosed) {
				w.log.WithError(err).Warn("write reply failed")
			}
			return
		}
		if req.Type == message.RequestLogout && resp.Type == message.ResponseOK {
			return
		}
	}
}

func (w *worker) readFailed(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, transport.ErrConnClosed):
		w.log.Debug("client disconnected")
	case protocol.IsFatal(err):
		w.svr.metrics.protocolError(true)
		w.log.WithError(err).Warn("protocol error, closing connection")
	default:
		w.log.WithError(err).Warn("read failed")
	}
}

// cleanup ends the session still bound to this connection, if any, and
// closes the socket.
func (w *worker) cleanup() {
	w.cancel()
	if user := w.currentUser(); user != nil {
		if w.svr.svc.Sessions().UnregisterIf(user.Username, w) {
			w.log.WithField("user", user.Username).Info("connection lost, session ended")
		}
		w.setUser(nil)
	}
	w.conn.Close()
	w.log.Debug("connection closed")
}

// closeWithNotice tells the client the server is going away, then closes
// the connection. The notice is best-effort.
func (w *worker) closeWithNotice(ctx context.Context) {
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		if err := w.Notify(message.NewConnectionClosedResponse()); err != nil {
			w.log.WithError(err).Debug("shutdown notice not delivered")
		}
	}()

	timer := time.NewTimer(noticeTimeout)
	defer timer.Stop()
	select {
	case <-sent:
	case <-timer.C:
	case <-ctx.Done():
	}
	w.cancel()
	w.conn.Close()
}
