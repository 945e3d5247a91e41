// Package metrics exposes Prometheus counters for the HTTP surface and the
// enrollment protocol.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Claim outcomes.
const (
	ClaimClaimed      = "claimed"
	ClaimAlreadyOwned = "already_owned"
	ClaimConflict     = "conflict"
	ClaimNoMatch      = "no_match"
	ClaimInvalidCode  = "invalid_code"
	ClaimError        = "error"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	claims        *prometheus.CounterVec
	signups       *prometheus.CounterVec
	unenrollments *prometheus.CounterVec
	mail          *prometheus.CounterVec
	sweeps        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "classroll",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "seat_claims_total",
			Help:      "Seat claim attempts by outcome.",
		}, []string{"outcome"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "signups_total",
			Help:      "Signup lifecycle transitions.",
		}, []string{"event"}),
		unenrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "unenrollments_total",
			Help:      "Unenrollments by trigger.",
		}, []string{"trigger"}),
		mail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "mail_sent_total",
			Help:      "Outgoing mail by result.",
		}, []string{"result"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "pending_signups_swept_total",
			Help:      "Lapsed pending signups deleted by the sweeper.",
		}),
	}
	m.reg.MustRegister(
		m.requests, m.duration, m.claims, m.signups, m.unenrollments, m.mail, m.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware records request counts and latency by chi route pattern, so
// ids in paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// The recorders below accept a nil receiver so services can run without
// metrics in tests.

func (m *Metrics) Claim(outcome string) {
	if m != nil {
		m.claims.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Signup(event string) {
	if m != nil {
		m.signups.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Unenrolled(trigger string) {
	if m != nil {
		m.unenrollments.WithLabelValues(trigger).Inc()
	}
}

func (m *Metrics) Mail(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.mail.WithLabelValues("sent").Inc()
	} else {
		m.mail.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) Swept(n int64) {
	if m != nil && n > 0 {
		m.sweeps.Add(float64(n))
	}
}
