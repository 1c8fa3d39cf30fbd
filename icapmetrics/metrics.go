// Package icapmetrics exports fasticap server activity as Prometheus metrics.
package icapmetrics

import (
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/valyala/fasticap"
)

// Metrics holds the collectors updated by the hooks returned from Trace.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	KeepaliveTotal    prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ContinuesTotal  *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
}

// New registers the collectors at reg.
//
// prometheus.DefaultRegisterer is used if reg is nil.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "fasticap"
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently served connections",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of served connections",
		}),
		KeepaliveTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_total",
			Help:      "Total number of times a connection was kept open for the next request",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of answered ICAP requests",
		}, []string{"method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from reading the request till the response is written",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ContinuesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "continues_total",
			Help:      "Total number of '100 Continue' responses sent after preview",
		}, []string{"method"}),
		WriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Total number of failed response writes",
		}, []string{"method"}),
	}
}

// Trace returns server hooks updating m.
func (m *Metrics) Trace() *fasticap.ServerTrace {
	return &fasticap.ServerTrace{
		GotConn: func(net.Conn) {
			m.ConnectionsTotal.Inc()
			m.ActiveConnections.Inc()
		},
		ClosedConn: func(net.Conn) {
			m.ActiveConnections.Dec()
		},
		IdledConn: func(net.Conn) {
			m.KeepaliveTotal.Inc()
		},
		SentContinue: func(req *fasticap.Request) {
			m.ContinuesTotal.WithLabelValues(methodLabel(req)).Inc()
		},
		WroteResponse: func(req *fasticap.Request, resp *fasticap.Response, d time.Duration, err error) {
			method := methodLabel(req)
			if err != nil {
				m.WriteErrors.WithLabelValues(method).Inc()
				return
			}
			m.RequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
			m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
		},
	}
}

// methodLabel keeps the label cardinality bounded for garbage
// request lines.
func methodLabel(req *fasticap.Request) string {
	switch req.Method {
	case "REQMOD", "RESPMOD", "OPTIONS":
		return req.Method
	case "":
		return "none"
	default:
		return "other"
	}
}
