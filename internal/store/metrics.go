// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import "github.com/prometheus/client_golang/prometheus"

// Collector exports DB.Stats as Prometheus metrics.
type Collector struct {
	db *DB

	queries  *prometheus.Desc
	errors   *prometheus.Desc
	retries  *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
}

// NewCollector creates a collector reading from db on every scrape.
func NewCollector(db *DB) *Collector {
	return &Collector{
		db:       db,
		queries:  prometheus.NewDesc("authcore_db_queries_total", "Total database operations attempted", nil, nil),
		errors:   prometheus.NewDesc("authcore_db_errors_total", "Total database operation attempts that failed", nil, nil),
		retries:  prometheus.NewDesc("authcore_db_retries_total", "Total database retry attempts", nil, nil),
		acquired: prometheus.NewDesc("authcore_db_pool_acquired_conns", "Connections currently acquired", nil, nil),
		idle:     prometheus.NewDesc("authcore_db_pool_idle_conns", "Connections currently idle", nil, nil),
		total:    prometheus.NewDesc("authcore_db_pool_total_conns", "Connections currently open", nil, nil),
		max:      prometheus.NewDesc("authcore_db_pool_max_conns", "Configured pool size", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.errors
	ch <- c.retries
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.db.Stats()
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.Queries))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns))
}

var _ prometheus.Collector = (*Collector)(nil)
