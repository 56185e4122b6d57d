// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fxgw"

type Metrics struct {
	QuotaDecisions      *prometheus.CounterVec
	RateResolutions     *prometheus.CounterVec
	RangeGaps           prometheus.Counter
	ProviderRequests    *prometheus.CounterVec
	ProviderDuration    prometheus.Histogram
	PollerPairs         *prometheus.CounterVec
	PollerTickDuration  prometheus.Histogram
	PollerLastSuccess   prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		QuotaDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Quota gate decisions by result",
			},
			[]string{"result"},
		),
		RateResolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_resolutions_total",
				Help:      "Resolved rate queries by kind and source",
			},
			[]string{"kind", "source"},
		),
		RangeGaps: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "range_gaps_total",
				Help:      "Expected grid points with no stored sample in range queries",
			},
		),
		ProviderRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Outbound provider calls by outcome",
			},
			[]string{"outcome"},
		),
		ProviderDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Outbound provider call latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PollerPairs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poller_pairs_total",
				Help:      "Pairs processed by the poller by outcome",
			},
			[]string{"outcome"},
		),
		PollerTickDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poller_tick_duration_seconds",
				Help:      "Wall time of one poller tick",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		PollerLastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "poller_last_success_timestamp",
				Help:      "Unix time of the last pair refreshed by the poller",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
