package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability with atomic counters.
// It implements service.Recorder and is exported to Prometheus by MetricsCollector.
type Metrics struct {
	// Snapshot fetcher
	fetchSuccess  atomic.Uint64
	fetchErrors   atomic.Uint64
	snapshotSize  atomic.Int64
	fetchSumNs    atomic.Int64
	fetchCount    atomic.Uint64
	lastFetchUnix atomic.Int64

	// Aggregator
	snapshotsApplied atomic.Uint64
	ticksApplied     atomic.Uint64
	ticksDiscarded   atomic.Uint64
	ticksBuffered    atomic.Uint64
	ticksEvicted     atomic.Uint64
	ticksExpired     atomic.Uint64
	ticksDropped     atomic.Uint64

	// Feeds
	malformedMessages  atomic.Uint64
	subscriptionErrors atomic.Uint64
	activeConnections  atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordFetch records a successful snapshot fetch and its latency.
func (m *Metrics) RecordFetch(latency time.Duration, assets int) {
	m.fetchSuccess.Add(1)
	m.fetchSumNs.Add(latency.Nanoseconds())
	m.fetchCount.Add(1)
	m.snapshotSize.Store(int64(assets))
	m.lastFetchUnix.Store(time.Now().Unix())
}

// RecordFetchError records a failed fetch attempt.
func (m *Metrics) RecordFetchError() {
	m.fetchErrors.Add(1)
}

// RecordSnapshotApplied implements service.Recorder.
func (m *Metrics) RecordSnapshotApplied(int) {
	m.snapshotsApplied.Add(1)
}

// RecordTickApplied implements service.Recorder.
func (m *Metrics) RecordTickApplied() {
	m.ticksApplied.Add(1)
}

// RecordTickDiscarded implements service.Recorder.
func (m *Metrics) RecordTickDiscarded() {
	m.ticksDiscarded.Add(1)
}

// RecordTickBuffered implements service.Recorder.
func (m *Metrics) RecordTickBuffered(evicted bool) {
	m.ticksBuffered.Add(1)
	if evicted {
		m.ticksEvicted.Add(1)
	}
}

// RecordTickExpired implements service.Recorder.
func (m *Metrics) RecordTickExpired() {
	m.ticksExpired.Add(1)
}

// RecordTickDropped implements service.Recorder.
func (m *Metrics) RecordTickDropped() {
	m.ticksDropped.Add(1)
}

// RecordSubscriptionError implements service.Recorder.
func (m *Metrics) RecordSubscriptionError() {
	m.subscriptionErrors.Add(1)
}

// RecordMalformed records a push message that could not be decoded.
func (m *Metrics) RecordMalformed() {
	m.malformedMessages.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FetchSuccess       uint64    `json:"fetch_success"`
	FetchErrors        uint64    `json:"fetch_errors"`
	SnapshotSize       int64     `json:"snapshot_size"`
	AvgFetchLatencyNs  int64     `json:"avg_fetch_latency_ns"`
	LastFetch          time.Time `json:"last_fetch"`
	SnapshotsApplied   uint64    `json:"snapshots_applied"`
	TicksApplied       uint64    `json:"ticks_applied"`
	TicksDiscarded     uint64    `json:"ticks_discarded"`
	TicksBuffered      uint64    `json:"ticks_buffered"`
	TicksEvicted       uint64    `json:"ticks_evicted"`
	TicksExpired       uint64    `json:"ticks_expired"`
	TicksDropped       uint64    `json:"ticks_dropped"`
	MalformedMessages  uint64    `json:"malformed_messages"`
	SubscriptionErrors uint64    `json:"subscription_errors"`
	ActiveConnections  int32     `json:"active_connections"`
	Timestamp          time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.fetchCount.Load()
	if count > 0 {
		avgLatency = m.fetchSumNs.Load() / int64(count)
	}
	var lastFetch time.Time
	if ts := m.lastFetchUnix.Load(); ts > 0 {
		lastFetch = time.Unix(ts, 0)
	}

	return MetricsSnapshot{
		FetchSuccess:       m.fetchSuccess.Load(),
		FetchErrors:        m.fetchErrors.Load(),
		SnapshotSize:       m.snapshotSize.Load(),
		AvgFetchLatencyNs:  avgLatency,
		LastFetch:          lastFetch,
		SnapshotsApplied:   m.snapshotsApplied.Load(),
		TicksApplied:       m.ticksApplied.Load(),
		TicksDiscarded:     m.ticksDiscarded.Load(),
		TicksBuffered:      m.ticksBuffered.Load(),
		TicksEvicted:       m.ticksEvicted.Load(),
		TicksExpired:       m.ticksExpired.Load(),
		TicksDropped:       m.ticksDropped.Load(),
		MalformedMessages:  m.malformedMessages.Load(),
		SubscriptionErrors: m.subscriptionErrors.Load(),
		ActiveConnections:  m.activeConnections.Load(),
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.fetchSuccess.Store(0)
	m.fetchErrors.Store(0)
	m.snapshotSize.Store(0)
	m.fetchSumNs.Store(0)
	m.fetchCount.Store(0)
	m.lastFetchUnix.Store(0)
	m.snapshotsApplied.Store(0)
	m.ticksApplied.Store(0)
	m.ticksDiscarded.Store(0)
	m.ticksBuffered.Store(0)
	m.ticksEvicted.Store(0)
	m.ticksExpired.Store(0)
	m.ticksDropped.Store(0)
	m.malformedMessages.Store(0)
	m.subscriptionErrors.Store(0)
	m.activeConnections.Store(0)
}
