package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crypto_view/internal/domain"
)

const (
	defaultBufferSize = 256
	defaultInboxSize  = 1000
	errorChanSize     = 16
)

// TickOutcome reports what ApplyTick did with a tick.
type TickOutcome int

const (
	TickApplied TickOutcome = iota + 1
	TickDiscarded
	TickBuffered
)

// String returns the string representation of TickOutcome
func (o TickOutcome) String() string {
	switch o {
	case TickApplied:
		return "applied"
	case TickDiscarded:
		return "discarded"
	case TickBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// Recorder receives aggregator counters. infra.Metrics implements it.
type Recorder interface {
	RecordSnapshotApplied(assets int)
	RecordTickApplied()
	RecordTickDiscarded()
	RecordTickBuffered(evicted bool)
	RecordTickExpired()
	RecordSubscriptionError()
	RecordTickDropped()
}

type nopRecorder struct{}

func (nopRecorder) RecordSnapshotApplied(int) {}
func (nopRecorder) RecordTickApplied() {}
func (nopRecorder) RecordTickDiscarded() {}
func (nopRecorder) RecordTickBuffered(bool) {}
func (nopRecorder) RecordTickExpired() {}
func (nopRecorder) RecordSubscriptionError() {}
func (nopRecorder) RecordTickDropped() {}

// MarketViewConfig tunes buffering and staleness.
type MarketViewConfig struct {
	BufferSize int           // ticks held for assets not yet in a snapshot
	BufferTTL  time.Duration // buffered ticks older than this are dropped on drain; 0 keeps them
	StaleAfter time.Duration // records not updated for this long are flagged stale; 0 disables
	Recorder   Recorder
	Now        func() time.Time
}

// ViewStatus is a point-in-time summary of the aggregator.
type ViewStatus struct {
	Assets      int       `json:"assets"`
	Live        int       `json:"live"`
	Stale       int       `json:"stale"`
	Buffered    int       `json:"buffered"`
	SnapshotSeq uint64    `json:"snapshot_seq"`
	SnapshotAt  time.Time `json:"snapshot_at"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// MarketView merges catalog snapshots and live ticks into one record per asset.
// All mutations hold the write lock, so readers never see a half-applied record.
type MarketView struct {
	mu          sync.RWMutex
	assets      map[domain.AssetID]*domain.AggregatedAsset
	lastTicks   map[domain.AssetID]domain.LiveTick
	pending     *tickBuffer
	snapshotSeq uint64
	snapshotAt  time.Time
	lastErr     error
	lastErrAt   time.Time

	bufferTTL  time.Duration
	staleAfter time.Duration
	recorder   Recorder
	now        func() time.Time

	errCh chan error
	inbox chan domain.LiveTick
}

// NewMarketView creates an empty aggregator.
func NewMarketView(cfg MarketViewConfig) *MarketView {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MarketView{
		assets:     make(map[domain.AssetID]*domain.AggregatedAsset),
		lastTicks:  make(map[domain.AssetID]domain.LiveTick),
		pending:    newTickBuffer(cfg.BufferSize),
		bufferTTL:  cfg.BufferTTL,
		staleAfter: cfg.StaleAfter,
		recorder:   cfg.Recorder,
		now:        cfg.Now,
		errCh:      make(chan error, errorChanSize),
		inbox:      make(chan domain.LiveTick, defaultInboxSize),
	}
}

// ApplySnapshot replaces the baseline with batch. A remembered tick newer than the
// batch is re-applied on top, assets missing from the batch are removed, and
// buffered ticks for newly known assets are merged. Returns false when the batch
// is not newer than the one already applied.
func (v *MarketView) ApplySnapshot(batch domain.SnapshotBatch) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.snapshotSeq != 0 && batch.Seq <= v.snapshotSeq {
		slog.Debug("Older snapshot ignored",
			slog.Uint64("seq", batch.Seq),
			slog.Uint64("current_seq", v.snapshotSeq),
		)
		return false
	}

	next := make(map[domain.AssetID]*domain.AggregatedAsset, len(batch.Assets))
	for _, snap := range batch.Assets {
		snap.ID = domain.NormalizeAssetID(string(snap.ID))
		rec := domain.NewAggregatedAsset(snap, batch.Seq, batch.FetchedAt)
		if t, ok := v.lastTicks[snap.ID]; ok && t.Seq > batch.Seq {
			rec.ApplyTick(t)
		}
		next[snap.ID] = &rec
	}

	for id := range v.lastTicks {
		if _, ok := next[id]; !ok {
			delete(v.lastTicks, id)
		}
	}

	v.assets = next
	v.snapshotSeq = batch.Seq
	v.snapshotAt = batch.FetchedAt
	v.recorder.RecordSnapshotApplied(len(next))

	if v.pending.len() > 0 {
		v.drainPendingLocked()
	}
	return true
}

// drainPendingLocked merges buffered ticks whose asset is now known.
// Must be called with lock held
func (v *MarketView) drainPendingLocked() {
	now := v.now()
	v.pending.drain(func(t domain.LiveTick) bool {
		if v.bufferTTL > 0 && now.Sub(t.ReceivedAt) > v.bufferTTL {
			v.recorder.RecordTickExpired()
			return false
		}
		rec, ok := v.assets[t.AssetID]
		if !ok {
			return true
		}
		v.applyLocked(rec, t)
		return false
	})
}

// ApplyTick merges a single live tick. Ticks for unknown assets are buffered;
// ticks not strictly newer than the stored sequence are dropped silently.
// An unset ReceivedAt is stamped with the current time.
func (v *MarketView) ApplyTick(t domain.LiveTick) TickOutcome {
	t.AssetID = domain.NormalizeAssetID(string(t.AssetID))

	v.mu.Lock()
	defer v.mu.Unlock()

	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = v.now()
	}

	rec, ok := v.assets[t.AssetID]
	if !ok {
		evicted := v.pending.push(t)
		v.recorder.RecordTickBuffered(evicted)
		return TickBuffered
	}
	return v.applyLocked(rec, t)
}

// Must be called with lock held
func (v *MarketView) applyLocked(rec *domain.AggregatedAsset, t domain.LiveTick) TickOutcome {
	// Equal sequence is not newer: duplicate delivery must not flap liveness.
	if t.Seq <= rec.Seq {
		v.recorder.RecordTickDiscarded()
		return TickDiscarded
	}
	rec.ApplyTick(t)
	v.lastTicks[t.AssetID] = t
	v.recorder.RecordTickApplied()
	return TickApplied
}

// GetView returns a copy of every record, in no particular order.
func (v *MarketView) GetView() []domain.AggregatedAsset {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now := v.now()
	result := make([]domain.AggregatedAsset, 0, len(v.assets))
	for _, rec := range v.assets {
		a := *rec
		a.Stale = v.isStale(a, now)
		result = append(result, a)
	}
	return result
}

// Get returns a copy of one record.
func (v *MarketView) Get(id domain.AssetID) (domain.AggregatedAsset, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rec, ok := v.assets[domain.NormalizeAssetID(string(id))]
	if !ok {
		return domain.AggregatedAsset{}, false
	}
	a := *rec
	a.Stale = v.isStale(a, v.now())
	return a, true
}

func (v *MarketView) isStale(a domain.AggregatedAsset, now time.Time) bool {
	return v.staleAfter > 0 && now.Sub(a.UpdatedAt) > v.staleAfter
}

// ReportError publishes a subscription failure on the Errors channel.
// It never blocks; when nobody is listening the error is only kept for Status.
func (v *MarketView) ReportError(err error) {
	if err == nil {
		return
	}
	v.mu.Lock()
	v.lastErr = err
	v.lastErrAt = v.now()
	v.mu.Unlock()

	v.recorder.RecordSubscriptionError()
	select {
	case v.errCh <- err:
	default:
	}
}

// Errors is the subscription-error notification channel.
func (v *MarketView) Errors() <-chan error {
	return v.errCh
}

// Status summarizes the aggregator state.
func (v *MarketView) Status() ViewStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now := v.now()
	st := ViewStatus{
		Assets:      len(v.assets),
		Buffered:    v.pending.len(),
		SnapshotSeq: v.snapshotSeq,
		SnapshotAt:  v.snapshotAt,
	}
	for _, rec := range v.assets {
		if rec.Liveness == domain.LivenessLive {
			st.Live++
		}
		if v.isStale(*rec, now) {
			st.Stale++
		}
	}
	if v.lastErr != nil {
		st.LastError = v.lastErr.Error()
		st.LastErrorAt = v.lastErrAt
	}
	return st
}

// Enqueue hands a tick to the processor without blocking the caller.
// Socket read loops use it so they never wait on the view lock.
func (v *MarketView) Enqueue(t domain.LiveTick) {
	select {
	case v.inbox <- t:
	default:
		v.recorder.RecordTickDropped()
		slog.Warn("Tick inbox full, dropping tick", slog.String("asset", t.AssetID.String()))
	}
}

// StartTickProcessor starts a background goroutine applying ticks from the inbox
func (v *MarketView) StartTickProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-v.inbox:
				v.ApplyTick(t)
			}
		}
	}()
}
