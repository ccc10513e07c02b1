// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts façade outcomes.
type Metrics struct {
	operations *prometheus.CounterVec
}

// NewMetrics creates and registers the façade counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_auth_operations_total",
			Help: "Authentication operations by outcome",
		}, []string{"operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations)
	}
	return m
}

// observe records one operation; the outcome label is the error kind.
func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, KindOf(err).String()).Inc()
}
