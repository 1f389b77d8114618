// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package handler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

// Metrics holds the Prometheus metrics of a Handler.
type Metrics struct {
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	faultsTotal     *prometheus.CounterVec
	resultsTotal    *prometheus.CounterVec
}

// NewMetrics creates the handler metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wss_messages_total",
				Help: "Total number of messages processed by direction and status",
			},
			[]string{"direction", "status"},
		),
		messageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wss_message_duration_seconds",
				Help:    "Security processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		faultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wss_faults_total",
				Help: "Total number of security faults by direction and fault code",
			},
			[]string{"direction", "fault"},
		),
		resultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wss_results_total",
				Help: "Total number of validated security tokens by action",
			},
			[]string{"action"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.messagesTotal, m.messageDuration, m.faultsTotal, m.resultsTotal)
	}
	return m
}

const (
	directionOutbound = "outbound"
	directionInbound  = "inbound"
)

func (m *Metrics) observe(direction string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.messageDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	if err == nil {
		m.messagesTotal.WithLabelValues(direction, "ok").Inc()
		return
	}
	m.messagesTotal.WithLabelValues(direction, "fault").Inc()
	code, _ := wss.CodeOf(err)
	m.faultsTotal.WithLabelValues(direction, wss.LookupFault(code).Name).Inc()
}

func (m *Metrics) recordResults(results []*wss.Result) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.resultsTotal.WithLabelValues(r.Action().String()).Inc()
	}
}
