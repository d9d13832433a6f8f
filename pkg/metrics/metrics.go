// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Pipeline metrics
	MessagesReceived   prometheus.Counter
	MessagesDispatched *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec

	// Protective gating metrics
	RateLimited *prometheus.CounterVec
	Blacklisted *prometheus.CounterVec

	// Transport metrics
	ActiveConnections *prometheus.GaugeVec
	DatagramsReceived *prometheus.CounterVec
	BytesReceived     *prometheus.CounterVec
	TruncatedReads    prometheus.Counter
}

// New creates a new Metrics instance with all counters, gauges, and
// histograms registered on the default registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hamgw"
	}

	return &Metrics{
		MessagesReceived: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of payloads handed to the message router",
			},
		),
		MessagesDispatched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dispatched_total",
				Help:      "Total number of messages dispatched to a handler operation",
			},
			[]string{"tag"},
		),
		MessagesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Total number of messages dropped by the pipeline",
			},
			[]string{"reason"},
		),
		HandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Handler operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tag"},
		),
		RateLimited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of datagrams dropped by the rate limiter",
			},
			[]string{"protocol"},
		),
		Blacklisted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blacklisted_total",
				Help:      "Total number of messages dropped from blacklisted sources",
			},
			[]string{"protocol", "list"},
		),
		ActiveConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active TCP connections",
			},
			[]string{"protocol"},
		),
		DatagramsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_received_total",
				Help:      "Total number of datagrams or connections received",
			},
			[]string{"protocol"},
		),
		BytesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Total payload bytes received",
			},
			[]string{"protocol"},
		),
		TruncatedReads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "truncated_reads_total",
				Help:      "Total number of TCP reads truncated at the buffer size",
			},
		),
	}
}
