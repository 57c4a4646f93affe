package server

import (
	"context"
	"errors"
	"time"

	"contest-rpc/message"
	"contest-rpc/middleware"
	"contest-rpc/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors the server updates.
type Metrics struct {
	connections     prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pushesTotal     *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// NewMetrics registers the server collectors with reg. A nil reg uses a
// private registry, which keeps tests from colliding on metric names.
// /metrics serves reg when it is also a Gatherer, the default gatherer
// otherwise.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	factory := promauto.With(reg)

	return &Metrics{
		registerer: reg,
		gatherer:   gatherer,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contest",
			Name:      "connections_active",
			Help:      "Number of open client connections",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contest",
			Name:      "requests_total",
			Help:      "Requests handled, by request type and reply type",
		}, []string{"type", "reply"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contest",
			Name:      "request_duration_seconds",
			Help:      "Request handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		pushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contest",
			Name:      "pushes_total",
			Help:      "Push notification deliveries, by result",
		}, []string{"result"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contest",
			Name:      "protocol_errors_total",
			Help:      "Frames or payloads that could not be decoded",
		}, []string{"fatal"}),
	}
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware() middleware.Middleware {
	return func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			m.requestDuration.WithLabelValues(req.Type.String()).Observe(time.Since(start).Seconds())
			m.requestsTotal.WithLabelValues(req.Type.String(), resp.Type.String()).Inc()
			return resp
		}
	}
}

// observeSessions exports the number of logged-in users. A second server
// sharing the registerer keeps the first one's gauge.
func (m *Metrics) observeSessions(sessions *session.Registry) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "contest",
		Name:      "sessions_active",
		Help:      "Number of logged-in users",
	}, func() float64 {
		return float64(sessions.Len())
	})
	if err := m.registerer.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// ObserveDelivery is hooked into session.Registry.OnDelivery.
func (m *Metrics) ObserveDelivery(identity string, err error) {
	if err != nil {
		m.pushesTotal.WithLabelValues("error").Inc()
		return
	}
	m.pushesTotal.WithLabelValues("ok").Inc()
}

func (m *Metrics) protocolError(fatal bool) {
	if fatal {
		m.protocolErrors.WithLabelValues("true").Inc()
	} else {
		m.protocolErrors.WithLabelValues("false").Inc()
	}
}
