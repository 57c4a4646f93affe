// Package server implements the contest RPC server: one worker goroutine per
// connection, a static request-type handler table, a middleware chain, and
// graceful shutdown that tells every client the server is going away.
//
// Request processing pipeline:
//
//	Accept conn → worker.serve (single goroutine reads frames)
//	  → Codec.Decode → Middleware Chain → handlers[req.Type] → Service → Codec.Encode → write reply
//
// Push notifications reach a client through its worker's Notify, which
// writes under the same connection write lock as replies.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"contest-rpc/log"
	"contest-rpc/message"
	"contest-rpc/middleware"
	"contest-rpc/registry"
	"contest-rpc/service"
	"contest-rpc/session"
	"contest-rpc/transport"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Service is the business layer plus the session registry it keeps. A
// connection that goes away without LOGOUT has its session removed here.
type Service interface {
	service.Service
	Sessions() *session.Registry
}

// Options tune a Server. The zero value is usable.
type Options struct {
	MaxConns       int           // accept limit, 0 = unlimited
	MaxBodyLen     uint32        // 0 = protocol.DefaultMaxBodyLen
	ReadTimeout    time.Duration // idle limit between frames, 0 = none
	WriteTimeout   time.Duration // per-frame write limit, 0 = none
	RequestTimeout time.Duration // handler limit, 0 = none
	RateLimit      float64       // requests per second per connection, 0 = unlimited
	RateBurst      int

	// Service discovery. Registry may be nil.
	Registry      registry.Registry
	ServiceName   string
	AdvertiseAddr string // routable address put into the registry
	RegistryTTL   int64
	Version       string

	Metrics *Metrics
}

// Server accepts client connections and dispatches their requests.
type Server struct {
	svc         Service
	opts        Options
	middlewares []middleware.Middleware
	metrics     *Metrics
	log         *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	workers  map[*worker]struct{}

	wg       sync.WaitGroup // one per live worker
	shutdown atomic.Bool
}

func NewServer(svc Service, opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "contest"
	}
	if opts.RegistryTTL <= 0 {
		opts.RegistryTTL = 10
	}
	svc.Sessions().OnDelivery = m.ObserveDelivery
	m.observeSessions(svc.Sessions())
	return &Server{
		svc:     svc,
		opts:    opts,
		metrics: m,
		log:     log.Component("server"),
		workers: make(map[*worker]struct{}),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are
// added, outside the built-in layers.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from ln until Shutdown.
func (svr *Server) ServeListener(ln net.Listener) error {
	if svr.opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, svr.opts.MaxConns)
	}
	svr.mu.Lock()
	svr.listener = ln
	svr.mu.Unlock()

	if svr.shutdown.Load() {
		ln.Close()
		return ErrServerClosed
	}
	svr.log.WithField("addr", ln.Addr().String()).Info("listening")

	if reg := svr.opts.Registry; reg != nil {
		addr := svr.opts.AdvertiseAddr
		if addr == "" {
			addr = ln.Addr().String()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := reg.Register(ctx, svr.opts.ServiceName, registry.ServiceInstance{
			Addr:    addr,
			Version: svr.opts.Version,
		}, svr.opts.RegistryTTL)
		cancel()
		if err != nil {
			svr.log.WithError(err).Warn("service registration failed, serving anyway")
		}
	}

	// Accept loop: one goroutine per connection
	for {
		conn, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if svr.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		svr.startWorker(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// ConnCount returns the number of open connections.
func (svr *Server) ConnCount() int {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return len(svr.workers)
}

func (svr *Server) startWorker(nc net.Conn) {
	conn := transport.NewConn(nc)
	conn.MaxBodyLen = svr.opts.MaxBodyLen
	conn.ReadTimeout = svr.opts.ReadTimeout
	conn.WriteTimeout = svr.opts.WriteTimeout

	w := newWorker(svr, conn)

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		conn.Close()
		return
	}
	svr.workers[w] = struct{}{}
	svr.wg.Add(1)
	svr.mu.Unlock()

	svr.metrics.connections.Inc()
	go func() {
		defer svr.wg.Done()
		defer svr.metrics.connections.Dec()
		defer svr.removeWorker(w)
		w.serve()
	}()
}

func (svr *Server) removeWorker(w *worker) {
	svr.mu.Lock()
	delete(svr.workers, w)
	svr.mu.Unlock()
}

// Requests whose side effects must match the reply run without a deadline.
// A timed-out ADD_PARTICIPANT would otherwise still store and broadcast.
var timeoutExempt = []message.RequestType{
	message.RequestLogin,
	message.RequestLogout,
	message.RequestAddParticipant,
}

// buildHandler assembles the per-connection handler chain. The rate limiter
// is created here, so each connection gets its own bucket.
func (svr *Server) buildHandler(final middleware.HandlerFunc) middleware.HandlerFunc {
	mws := append([]middleware.Middleware{}, svr.middlewares...)
	mws = append(mws,
		middleware.RecoverMiddleware(svr.log),
		middleware.LoggingMiddleware(svr.log),
		svr.metrics.Middleware(),
		middleware.RateLimitMiddleware(svr.opts.RateLimit, svr.opts.RateBurst),
		middleware.TimeOutMiddleware(svr.opts.RequestTimeout, timeoutExempt...),
	)
	return middleware.Chain(mws...)(final)
}

// Shutdown performs graceful shutdown:
//  1. Stop accepting and deregister from the service registry
//  2. Send CONNECTION_CLOSED to every open connection (best-effort)
//  3. Close the connections and wait for their workers until ctx is done
func (svr *Server) Shutdown(ctx context.Context) error {
	// Set the flag before closing the listener so the Accept error is
	// recognised as intentional.
	svr.shutdown.Store(true)

	svr.mu.Lock()
	ln := svr.listener
	workers := make([]*worker, 0, len(svr.workers))
	for w := range svr.workers {
		workers = append(workers, w)
	}
	svr.mu.Unlock()

	if reg := svr.opts.Registry; reg != nil && ln != nil {
		addr := svr.opts.AdvertiseAddr
		if addr == "" {
			addr = ln.Addr().String()
		}
		if err := reg.Deregister(ctx, svr.opts.ServiceName, addr); err != nil {
			svr.log.WithError(err).Warn("deregister failed")
		}
	}
	if ln != nil {
		ln.Close()
	}

	svr.log.WithField("connections", len(workers)).Info("shutting down")

	var notified sync.WaitGroup
	for _, w := range workers {
		notified.Add(1)
		go func(w *worker) {
			defer notified.Done()
			w.closeWithNotice(ctx)
		}(w)
	}
	notified.Wait()

	if err := svr.svc.Sessions().Drain(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
