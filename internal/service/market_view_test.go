package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto_view/internal/domain"

	"github.com/shopspring/decimal"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func snapshotOf(seq uint64, assets ...domain.AssetSnapshot) domain.SnapshotBatch {
	return domain.SnapshotBatch{Assets: assets, Seq: seq, FetchedAt: baseTime}
}

func asset(id string, price int64) domain.AssetSnapshot {
	return domain.AssetSnapshot{
		ID:        domain.AssetID(id),
		Name:      "Name " + id,
		Symbol:    id,
		Price:     decimal.NewFromInt(price),
		Change24h: decimal.NewFromFloat(1.5),
		MarketCap: decimal.NewFromInt(price * 1000),
		Volume24h: decimal.NewFromInt(price * 10),
	}
}

func tick(id string, price int64, seq uint64) domain.LiveTick {
	return domain.LiveTick{
		AssetID:    domain.AssetID(id),
		Price:      decimal.NewFromInt(price),
		Seq:        seq,
		ReceivedAt: baseTime.Add(time.Duration(seq) * time.Second),
		Source:     domain.SourceBinance,
	}
}

func mustGet(t *testing.T, v *MarketView, id string) domain.AggregatedAsset {
	t.Helper()
	a, ok := v.Get(domain.AssetID(id))
	if !ok {
		t.Fatalf("%s should exist", id)
	}
	return a
}

func TestMarketView_IncreasingTicksShowLastPrice(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000)))

	for seq := uint64(2); seq <= 10; seq++ {
		if got := v.ApplyTick(tick("btc", 29000+int64(seq), seq)); got != TickApplied {
			t.Fatalf("seq %d: expected applied, got %s", seq, got)
		}
	}

	btc := mustGet(t, v, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(29010)) {
		t.Errorf("Expected 29010, got %v", btc.Price)
	}
	if btc.Liveness != domain.LivenessLive {
		t.Errorf("Expected live, got %s", btc.Liveness)
	}
}

func TestMarketView_StaleAndDuplicateTicksAreNoOps(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000)))
	v.ApplyTick(tick("btc", 29500, 5))

	t.Run("older tick", func(t *testing.T) {
		if got := v.ApplyTick(tick("btc", 1, 4)); got != TickDiscarded {
			t.Errorf("Expected discarded, got %s", got)
		}
	})

	t.Run("equal sequence is not newer", func(t *testing.T) {
		dup := tick("btc", 2, 5)
		dup.Source = domain.SourceCoinCap
		if got := v.ApplyTick(dup); got != TickDiscarded {
			t.Errorf("Expected discarded, got %s", got)
		}
	})

	t.Run("tick older than snapshot", func(t *testing.T) {
		v2 := NewMarketView(MarketViewConfig{})
		v2.ApplySnapshot(snapshotOf(7, asset("eth", 1800)))
		if got := v2.ApplyTick(tick("eth", 1, 6)); got != TickDiscarded {
			t.Errorf("Expected discarded, got %s", got)
		}
		if eth := mustGet(t, v2, "eth"); eth.Liveness != domain.LivenessSnapshot {
			t.Errorf("Expected snapshot liveness, got %s", eth.Liveness)
		}
	})

	btc := mustGet(t, v, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(29500)) {
		t.Errorf("Expected 29500 to survive, got %v", btc.Price)
	}
	if btc.Source != domain.SourceBinance || btc.Seq != 5 {
		t.Errorf("source/seq changed: %s %d", btc.Source, btc.Seq)
	}
}

func TestMarketView_SnapshotReplacesNonPriceFieldsAndDropsAbsent(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000), asset("eth", 1800)))
	v.ApplyTick(tick("eth", 1900, 2))

	next := asset("btc", 29100)
	next.Name = "Bitcoin"
	next.MarketCap = decimal.NewFromInt(1)
	next.Sparkline = []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2)}
	v.ApplySnapshot(snapshotOf(3, next))

	view := v.GetView()
	if len(view) != 1 {
		t.Fatalf("Expected 1 asset, got %d", len(view))
	}
	btc := view[0]
	if btc.Name != "Bitcoin" || !btc.MarketCap.Equal(decimal.NewFromInt(1)) || len(btc.Sparkline) != 2 {
		t.Errorf("non-price fields not replaced: %+v", btc.AssetSnapshot)
	}
	if _, ok := v.Get("eth"); ok {
		t.Error("eth should be removed by full replace")
	}

	// A late eth tick is buffered again, not resurrected from old tick memory.
	if got := v.ApplyTick(tick("eth", 2000, 4)); got != TickBuffered {
		t.Errorf("Expected buffered, got %s", got)
	}
}

func TestMarketView_SnapshotTickScenario(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000)))
	v.ApplyTick(tick("btc", 29500, 2))

	btc := mustGet(t, v, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(29500)) || btc.Liveness != domain.LivenessLive {
		t.Fatalf("Expected live 29500, got %v %s", btc.Price, btc.Liveness)
	}

	v.ApplySnapshot(snapshotOf(3, asset("btc", 29100)))
	btc = mustGet(t, v, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(29100)) {
		t.Errorf("Expected snapshot 29100, got %v", btc.Price)
	}
	if btc.Liveness != domain.LivenessSnapshot {
		t.Errorf("Expected snapshot liveness, got %s", btc.Liveness)
	}
}

func TestMarketView_NewerTickSurvivesSnapshot(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000)))

	change := decimal.NewFromFloat(-2.5)
	tk := tick("btc", 29500, 5)
	tk.Change24h = &change
	v.ApplyTick(tk)

	// Fetched before the tick was received (seq 4 < 5).
	v.ApplySnapshot(snapshotOf(4, asset("btc", 29100)))

	btc := mustGet(t, v, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(29500)) {
		t.Errorf("Expected live 29500 to survive, got %v", btc.Price)
	}
	if !btc.Change24h.Equal(change) {
		t.Errorf("Expected re-applied change %v, got %v", change, btc.Change24h)
	}
	if btc.Liveness != domain.LivenessLive {
		t.Errorf("Expected live, got %s", btc.Liveness)
	}
	if !btc.MarketCap.Equal(decimal.NewFromInt(29100 * 1000)) {
		t.Errorf("market cap must come from the new snapshot, got %v", btc.MarketCap)
	}
}

func TestMarketView_OlderSnapshotIgnored(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	if !v.ApplySnapshot(snapshotOf(5, asset("btc", 29000))) {
		t.Fatal("first snapshot should apply")
	}
	if v.ApplySnapshot(snapshotOf(4, asset("btc", 1))) {
		t.Error("older snapshot should be ignored")
	}
	if v.ApplySnapshot(snapshotOf(5, asset("btc", 2))) {
		t.Error("same-sequence snapshot should be ignored")
	}
	if btc := mustGet(t, v, "btc"); !btc.Price.Equal(decimal.NewFromInt(29000)) {
		t.Errorf("Expected 29000, got %v", btc.Price)
	}
}

func TestMarketView_BufferedTickAppliedOnSnapshot(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})

	if got := v.ApplyTick(tick("SOL", 25, 3)); got != TickBuffered {
		t.Fatalf("Expected buffered, got %s", got)
	}
	if got := v.ApplyTick(tick("ada", 1, 1)); got != TickBuffered {
		t.Fatalf("Expected buffered, got %s", got)
	}
	if len(v.GetView()) != 0 {
		t.Fatal("buffered ticks must not create records")
	}

	// Snapshot seq 2: sol tick (3) is newer, ada tick (1) is older.
	v.ApplySnapshot(snapshotOf(2, asset("sol", 22), asset("ada", 0)))

	sol := mustGet(t, v, "sol")
	if !sol.Price.Equal(decimal.NewFromInt(25)) || sol.Liveness != domain.LivenessLive {
		t.Errorf("Expected buffered live 25, got %v %s", sol.Price, sol.Liveness)
	}
	ada := mustGet(t, v, "ada")
	if !ada.Price.IsZero() || ada.Liveness != domain.LivenessSnapshot {
		t.Errorf("older buffered tick must not override, got %v %s", ada.Price, ada.Liveness)
	}
	if st := v.Status(); st.Buffered != 0 {
		t.Errorf("Expected empty buffer, got %d", st.Buffered)
	}
}

func TestMarketView_BufferKeepsUnknownAndExpires(t *testing.T) {
	now := baseTime.Add(time.Hour)
	v := NewMarketView(MarketViewConfig{
		BufferTTL: 10 * time.Minute,
		Now:       func() time.Time { return now },
	})

	old := tick("xrp", 1, 2)
	old.ReceivedAt = now.Add(-20 * time.Minute)
	v.ApplyTick(old)

	fresh := tick("doge", 1, 3)
	fresh.ReceivedAt = now.Add(-time.Minute)
	v.ApplyTick(fresh)

	v.ApplySnapshot(snapshotOf(1, asset("xrp", 0)))

	if xrp := mustGet(t, v, "xrp"); xrp.Liveness != domain.LivenessSnapshot {
		t.Error("expired tick must not be applied")
	}
	if st := v.Status(); st.Buffered != 1 {
		t.Errorf("doge tick should stay buffered, got %d", st.Buffered)
	}
}

func TestMarketView_UnstampedTickSurvivesBufferTTL(t *testing.T) {
	now := baseTime.Add(time.Hour)
	v := NewMarketView(MarketViewConfig{
		BufferTTL: 5 * time.Minute,
		Now:       func() time.Time { return now },
	})

	// direct callers may leave ReceivedAt unset
	unstamped := domain.LiveTick{AssetID: "btc", Price: decimal.NewFromInt(29500), Seq: 2}
	if got := v.ApplyTick(unstamped); got != TickBuffered {
		t.Fatalf("Expected buffered, got %v", got)
	}

	now = now.Add(time.Minute)
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000)))

	btc := mustGet(t, v, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(29500)) || btc.Liveness != domain.LivenessLive {
		t.Errorf("Expected live 29500, got %s (%s)", btc.Price, btc.Liveness)
	}
	if !btc.UpdatedAt.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("Expected tick stamped at buffering time, got %v", btc.UpdatedAt)
	}
}

func TestMarketView_BufferEvictsOldest(t *testing.T) {
	v := NewMarketView(MarketViewConfig{BufferSize: 2})

	v.ApplyTick(tick("a", 1, 2))
	v.ApplyTick(tick("b", 2, 3))
	v.ApplyTick(tick("c", 3, 4))

	v.ApplySnapshot(snapshotOf(1, asset("a", 0), asset("b", 0), asset("c", 0)))

	if a := mustGet(t, v, "a"); a.Liveness == domain.LivenessLive {
		t.Error("oldest tick should have been evicted")
	}
	for _, id := range []string{"b", "c"} {
		if got := mustGet(t, v, id); got.Liveness != domain.LivenessLive {
			t.Errorf("%s tick should have been applied", id)
		}
	}
}

func TestMarketView_StaleFlag(t *testing.T) {
	now := baseTime
	v := NewMarketView(MarketViewConfig{
		StaleAfter: 30 * time.Second,
		Now:        func() time.Time { return now },
	})
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000), asset("eth", 1800)))

	now = baseTime.Add(time.Minute)
	live := tick("eth", 1900, 2)
	live.ReceivedAt = now
	v.ApplyTick(live)

	if btc := mustGet(t, v, "btc"); !btc.Stale {
		t.Error("btc should be stale")
	}
	if eth := mustGet(t, v, "eth"); eth.Stale {
		t.Error("eth was just updated and should be fresh")
	}
	st := v.Status()
	if st.Stale != 1 || st.Live != 1 || st.Assets != 2 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestMarketView_ReportError(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	boom := &domain.SubscriptionError{Source: domain.SourceBinance, Err: errors.New("EOF")}

	v.ReportError(boom)
	v.ReportError(nil)

	select {
	case err := <-v.Errors():
		if !errors.Is(err, boom) {
			t.Errorf("unexpected error %v", err)
		}
	default:
		t.Fatal("Expected error on channel")
	}

	if st := v.Status(); st.LastError != boom.Error() {
		t.Errorf("Expected last error %q, got %q", boom.Error(), st.LastError)
	}

	// Never blocks when nobody drains the channel.
	for i := 0; i < errorChanSize*2; i++ {
		v.ReportError(boom)
	}
}

func TestMarketView_AsyncInbox(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v.StartTickProcessor(ctx)
	v.ApplySnapshot(snapshotOf(1, asset("btc", 29000)))

	v.Enqueue(tick("btc", 30000, 2))

	// Give it a moment to process
	time.Sleep(100 * time.Millisecond)

	if btc := mustGet(t, v, "btc"); !btc.Price.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("Expected 30000 from inbox, got %v", btc.Price)
	}
}

func TestMarketView_ConcurrentProducers(t *testing.T) {
	v := NewMarketView(MarketViewConfig{})
	var seq domain.SeqSource
	v.ApplySnapshot(snapshotOf(seq.Next(), asset("btc", 1)))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := seq.Next()
				v.ApplyTick(tick("btc", int64(n), n))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			v.ApplySnapshot(snapshotOf(seq.Next(), asset("btc", 1)))
			_ = v.GetView()
		}
	}()
	wg.Wait()

	btc := mustGet(t, v, "btc")
	// Whatever won, the displayed record must carry the highest sequence applied
	// and a live price always equals its own sequence in this test.
	if btc.Liveness == domain.LivenessLive && !btc.Price.Equal(decimal.NewFromInt(int64(btc.Seq))) {
		t.Errorf("live price %v does not match seq %d", btc.Price, btc.Seq)
	}
}

func TestTickOutcome_String(t *testing.T) {
	if TickApplied.String() != "applied" || TickDiscarded.String() != "discarded" || TickBuffered.String() != "buffered" {
		t.Error("unexpected outcome strings")
	}
	if TickOutcome(0).String() != "unknown" {
		t.Error("zero outcome should be unknown")
	}
}
