// Package metrics holds the daemon's Prometheus collectors. All methods are
// safe on a nil *Metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Poll results.
const (
	PollOK      = "ok"
	PollError   = "error"
	PollSkipped = "skipped"
)

// Metrics owns a private registry so tests and multiple daemons in one
// process never collide.
type Metrics struct {
	registry *prometheus.Registry

	polls       *prometheus.CounterVec
	unread      prometheus.Gauge
	sends       *prometheus.CounterVec
	markRead    *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	grpcHandled *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilechat_polls_total",
				Help: "Background poll ticks by loop and result.",
			},
			[]string{"loop", "result"},
		),
		unread: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilechat_unread_messages",
				Help: "Sum of unread counters over the current conversation list.",
			},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilechat_sends_total",
				Help: "Send attempts by kind and result.",
			},
			[]string{"kind", "result"},
		),
		markRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilechat_mark_read_total",
				Help: "Mark-as-read calls by result.",
			},
			[]string{"result"},
		),
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilechat_http_requests_total",
				Help: "Backend HTTP requests by method and status code (0 = no response).",
			},
			[]string{"method", "code"},
		),
		grpcHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilechat_grpc_handled_total",
				Help: "Local gRPC requests handled by the daemon.",
			},
			[]string{"grpc_method", "grpc_code"},
		),
	}
	m.registry.MustRegister(m.polls, m.unread, m.sends, m.markRead, m.httpReqs, m.grpcHandled)
	return m
}

// Registry exposes the private registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Poll(loop, result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(loop, result).Inc()
}

func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}

func (m *Metrics) Send(kind string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) MarkRead(err error) {
	if m == nil {
		return
	}
	m.markRead.WithLabelValues(result(err)).Inc()
}

// ObserveHTTP matches httpclient.Observer.
func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.httpReqs.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// UnaryInterceptor counts handled unary RPCs by method and status code.
func (m *Metrics) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if m != nil {
			m.grpcHandled.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
		}
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[2]
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
