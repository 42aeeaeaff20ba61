// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"strconv"
	"time"

	"github.com/example/cookieauth/internal/resolver"
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultError     = "error"
	ResultReplay    = "replay"
)

// Reset stages.
const (
	StageRequest  = "request"
	StageComplete = "complete"
)

type Metrics struct {
	resolutions   *prometheus.CounterVec
	logins        *prometheus.CounterVec
	registrations *prometheus.CounterVec
	resets        *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Registration
// panics on conflict, following prometheus convention.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieauth_session_resolutions_total",
			Help: "Sessions resolved per request, by the token that resolved them",
		}, []string{"source"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieauth_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieauth_registrations_total",
			Help: "Registration attempts by result",
		}, []string{"result"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieauth_password_resets_total",
			Help: "Password reset requests and completions by result",
		}, []string{"stage", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cookieauth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.resolutions, m.logins, m.registrations, m.resets, m.httpDuration)
	return m
}

// ObserveResolution implements resolver.Observer.
func (m *Metrics) ObserveResolution(source resolver.Source) {
	m.resolutions.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) RecordLogin(result string) {
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRegistration(result string) {
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReset(stage, result string) {
	m.resets.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
