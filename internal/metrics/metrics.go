// Package metrics exposes Prometheus counters for the authorization server
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics surface used by services and middleware.
type Recorder interface {
	// RecordStrategy counts a grant or exchange run. result is "success" or an error kind.
	RecordStrategy(strategy, result string)
	// RecordAuthorization counts authorize and decision outcomes.
	RecordAuthorization(outcome string)
	// RecordTokensIssued counts token pairs minted, labelled by issuing path.
	RecordTokensIssued(mode string)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	StrategyRunsTotal   *prometheus.CounterVec
	AuthorizationsTotal *prometheus.CounterVec
	TokensIssuedTotal   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StrategyRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_strategy_runs_total",
				Help: "Total number of grant and exchange strategy runs",
			},
			[]string{"strategy", "result"},
		),
		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_authorizations_total",
				Help: "Total number of authorization transactions by outcome",
			},
			[]string{"outcome"}, // auto_approved, pending, allowed, denied, rejected
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_tokens_issued_total",
				Help: "Total number of access/refresh token pairs issued",
			},
			[]string{"mode"}, // atomic, sequential
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.StrategyRunsTotal,
		m.AuthorizationsTotal,
		m.TokensIssuedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) RecordStrategy(strategy, result string) {
	m.StrategyRunsTotal.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) RecordAuthorization(outcome string) {
	m.AuthorizationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTokensIssued(mode string) {
	m.TokensIssuedTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
