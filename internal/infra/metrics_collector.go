package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "crypto_view"

// MetricsCollector exposes Metrics to Prometheus. Values are read at scrape
// time, so the hot path keeps using plain atomics.
type MetricsCollector struct {
	m *Metrics

	fetches     *prometheus.Desc
	snapshot    *prometheus.Desc
	fetchAvg    *prometheus.Desc
	snapshots   *prometheus.Desc
	ticks       *prometheus.Desc
	malformed   *prometheus.Desc
	subErrors   *prometheus.Desc
	connections *prometheus.Desc
}

// NewMetricsCollector creates a collector over m.
func NewMetricsCollector(m *Metrics) *MetricsCollector {
	return &MetricsCollector{
		m: m,
		fetches: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "snapshot", "fetches_total"),
			"Snapshot fetch attempts by result",
			[]string{"result"}, nil,
		),
		snapshot: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "snapshot", "assets"),
			"Assets in the last fetched snapshot",
			nil, nil,
		),
		fetchAvg: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "snapshot", "fetch_avg_seconds"),
			"Average snapshot fetch latency",
			nil, nil,
		),
		snapshots: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "view", "snapshots_applied_total"),
			"Snapshots applied to the market view",
			nil, nil,
		),
		ticks: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "view", "ticks_total"),
			"Live ticks by outcome",
			[]string{"outcome"}, nil,
		),
		malformed: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "feed", "malformed_messages_total"),
			"Push messages that could not be decoded",
			nil, nil,
		),
		subErrors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "feed", "subscription_errors_total"),
			"Transport failures on push subscriptions",
			nil, nil,
		),
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "feed", "active_connections"),
			"Open websocket connections",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fetches
	ch <- c.snapshot
	ch <- c.fetchAvg
	ch <- c.snapshots
	ch <- c.ticks
	ch <- c.malformed
	ch <- c.subErrors
	ch <- c.connections
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.fetches, prometheus.CounterValue, float64(s.FetchSuccess), "success")
	ch <- prometheus.MustNewConstMetric(c.fetches, prometheus.CounterValue, float64(s.FetchErrors), "error")
	ch <- prometheus.MustNewConstMetric(c.snapshot, prometheus.GaugeValue, float64(s.SnapshotSize))
	ch <- prometheus.MustNewConstMetric(c.fetchAvg, prometheus.GaugeValue, float64(s.AvgFetchLatencyNs)/1e9)
	ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.CounterValue, float64(s.SnapshotsApplied))

	for outcome, v := range map[string]uint64{
		"applied":   s.TicksApplied,
		"discarded": s.TicksDiscarded,
		"buffered":  s.TicksBuffered,
		"evicted":   s.TicksEvicted,
		"expired":   s.TicksExpired,
		"dropped":   s.TicksDropped,
	} {
		ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(v), outcome)
	}

	ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(s.MalformedMessages))
	ch <- prometheus.MustNewConstMetric(c.subErrors, prometheus.CounterValue, float64(s.SubscriptionErrors))
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.ActiveConnections))
}
