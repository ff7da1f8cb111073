package service

import (
	"errors"
	"testing"
	"time"

	"crypto_view/internal/domain"

	"github.com/shopspring/decimal"
)

type memStore struct {
	favorites []domain.AssetID
	holdings  map[domain.AssetID]decimal.Decimal
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{holdings: make(map[domain.AssetID]decimal.Decimal)}
}

func (m *memStore) LoadFavorites() ([]domain.AssetID, error) {
	return append([]domain.AssetID(nil), m.favorites...), nil
}

func (m *memStore) SaveFavorites(ids []domain.AssetID) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.favorites = append([]domain.AssetID(nil), ids...)
	return nil
}

func (m *memStore) LoadHoldings() (map[domain.AssetID]decimal.Decimal, error) {
	out := make(map[domain.AssetID]decimal.Decimal, len(m.holdings))
	for k, v := range m.holdings {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveHolding(id domain.AssetID, qty decimal.Decimal) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if qty.IsZero() {
		delete(m.holdings, id)
		return nil
	}
	m.holdings[id] = qty
	return nil
}

type staticView []domain.AggregatedAsset

func (s staticView) GetView() []domain.AggregatedAsset {
	out := make([]domain.AggregatedAsset, len(s))
	copy(out, s)
	return out
}

func row(id, name, symbol string, price, mcap, vol, ch24 float64) domain.AggregatedAsset {
	return domain.NewAggregatedAsset(domain.AssetSnapshot{
		ID:        domain.AssetID(id),
		Name:      name,
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		MarketCap: decimal.NewFromFloat(mcap),
		Volume24h: decimal.NewFromFloat(vol),
		Change24h: decimal.NewFromFloat(ch24),
	}, 1, time.Unix(0, 0))
}

func sampleView() staticView {
	return staticView{
		row("bitcoin", "Bitcoin", "btc", 30000, 600e9, 20e9, 2.5),
		row("ethereum", "Ethereum", "eth", 2000, 240e9, 15e9, -1.2),
		row("solana", "Solana", "sol", 100, 40e9, 3e9, 8.0),
		row("dogecoin", "Dogecoin", "doge", 0.1, 10e9, 0.4e9, -4.0),
		row("tether", "Tether", "usdt", 1, 80e9, 50e9, 0),
	}
}

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r.ID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDashboard_RowsSortAndRank(t *testing.T) {
	d, err := NewDashboard(sampleView(), newMemStore())
	if err != nil {
		t.Fatalf("NewDashboard: %v", err)
	}

	tests := []struct {
		name  string
		query RowQuery
		want  []string
	}{
		{"default market cap desc", RowQuery{}, []string{"bitcoin", "ethereum", "tether", "solana", "dogecoin"}},
		{"price asc", RowQuery{SortKey: SortPrice, Direction: SortAsc}, []string{"dogecoin", "tether", "solana", "ethereum", "bitcoin"}},
		{"change desc", RowQuery{SortKey: SortChange24h}, []string{"solana", "bitcoin", "tether", "ethereum", "dogecoin"}},
		{"name asc", RowQuery{SortKey: SortName, Direction: SortAsc}, []string{"bitcoin", "dogecoin", "ethereum", "solana", "tether"}},
		{"unknown key falls back", RowQuery{SortKey: "bogus"}, []string{"bitcoin", "ethereum", "tether", "solana", "dogecoin"}},
		{"limit", RowQuery{Limit: 2}, []string{"bitcoin", "ethereum"}},
		{"search symbol or name", RowQuery{Search: "ETH"}, []string{"ethereum", "tether"}},
		{"search symbol only", RowQuery{Search: "doge"}, []string{"dogecoin"}},
		{"search name", RowQuery{Search: "coin"}, []string{"bitcoin", "dogecoin"}},
		{"search no match", RowQuery{Search: "xyz"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := d.Rows(tt.query)
			if got := ids(rows); !equalStrings(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			for i, r := range rows {
				if r.Rank != i+1 {
					t.Errorf("row %d: expected rank %d, got %d", i, i+1, r.Rank)
				}
			}
		})
	}
}

func TestSortAssets_TiesBrokenByID(t *testing.T) {
	view := staticView{
		row("b", "B", "b", 1, 10, 0, 0),
		row("c", "C", "c", 1, 10, 0, 0),
		row("a", "A", "a", 1, 10, 0, 0),
	}.GetView()

	for _, dir := range []string{SortAsc, SortDesc} {
		SortAssets(view, SortMarketCap, dir)
		if view[0].ID != "a" || view[1].ID != "b" || view[2].ID != "c" {
			t.Errorf("%s: expected a,b,c got %s,%s,%s", dir, view[0].ID, view[1].ID, view[2].ID)
		}
	}
}

func TestDashboard_ToggleFavorite(t *testing.T) {
	store := newMemStore()
	store.favorites = []domain.AssetID{"ethereum"}
	d, err := NewDashboard(sampleView(), store)
	if err != nil {
		t.Fatalf("NewDashboard: %v", err)
	}

	fav, err := d.ToggleFavorite("Bitcoin")
	if err != nil || !fav {
		t.Fatalf("Expected bitcoin favorited, got %v %v", fav, err)
	}
	if got := d.Favorites(); len(got) != 2 || got[0] != "ethereum" || got[1] != "bitcoin" {
		t.Errorf("Expected [ethereum bitcoin], got %v", got)
	}
	if len(store.favorites) != 2 {
		t.Errorf("store should hold full list, got %v", store.favorites)
	}

	rows := d.Rows(RowQuery{FavoritesOnly: true})
	if got := ids(rows); !equalStrings(got, []string{"bitcoin", "ethereum"}) {
		t.Errorf("favorites filter: got %v", got)
	}
	for _, r := range rows {
		if !r.IsFavorite {
			t.Errorf("%s should be marked favorite", r.ID)
		}
	}

	fav, err = d.ToggleFavorite("ethereum")
	if err != nil || fav {
		t.Fatalf("Expected ethereum removed, got %v %v", fav, err)
	}
	if got := d.Favorites(); len(got) != 1 || got[0] != "bitcoin" {
		t.Errorf("Expected [bitcoin], got %v", got)
	}
}

func TestDashboard_ToggleFavoriteStoreFailure(t *testing.T) {
	store := newMemStore()
	d, _ := NewDashboard(sampleView(), store)
	store.saveErr = errors.New("disk full")

	if _, err := d.ToggleFavorite("bitcoin"); err == nil {
		t.Fatal("Expected error")
	}
	if len(d.Favorites()) != 0 {
		t.Error("in-memory favorites must not change when save fails")
	}
}

func TestDashboard_Holdings(t *testing.T) {
	store := newMemStore()
	d, _ := NewDashboard(sampleView(), store)

	if err := d.SetHolding("bitcoin", decimal.RequireFromString("-1")); !errors.Is(err, domain.ErrNegativeQuantity) {
		t.Fatalf("Expected ErrNegativeQuantity, got %v", err)
	}
	if err := d.SetHolding("bitcoin", decimal.RequireFromString("0.5")); err != nil {
		t.Fatalf("SetHolding: %v", err)
	}
	if err := d.SetHolding("solana", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("SetHolding: %v", err)
	}
	if err := d.SetHolding("gone", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("SetHolding: %v", err)
	}

	p := d.Portfolio()
	if !p.Total.Equal(decimal.NewFromInt(16000)) {
		t.Errorf("Expected total 16000, got %s", p.Total)
	}
	if len(p.Positions) != 3 || p.Positions[0].ID != "bitcoin" {
		t.Fatalf("unexpected positions: %+v", p.Positions)
	}
	last := p.Positions[2]
	if last.ID != "gone" || !last.Value.IsZero() {
		t.Errorf("asset missing from view should be valued at zero, got %+v", last)
	}

	btc, err := d.Row("bitcoin")
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	if btc.HoldingValue == nil || !btc.HoldingValue.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("Expected holding value 15000, got %v", btc.HoldingValue)
	}

	if err := d.SetHolding("bitcoin", decimal.Zero); err != nil {
		t.Fatalf("SetHolding zero: %v", err)
	}
	if _, ok := store.holdings["bitcoin"]; ok {
		t.Error("zero quantity should remove the holding")
	}
}

func TestDashboard_RowUnknown(t *testing.T) {
	d, _ := NewDashboard(sampleView(), newMemStore())
	if _, err := d.Row("nope"); !errors.Is(err, domain.ErrUnknownAsset) {
		t.Errorf("Expected ErrUnknownAsset, got %v", err)
	}
}

func TestTopMovers(t *testing.T) {
	m := TopMovers(sampleView().GetView(), 2)
	if len(m.Gainers) != 2 || m.Gainers[0].ID != "solana" || m.Gainers[1].ID != "bitcoin" {
		t.Errorf("unexpected gainers: %+v", m.Gainers)
	}
	if len(m.Losers) != 2 || m.Losers[0].ID != "dogecoin" || m.Losers[1].ID != "ethereum" {
		t.Errorf("unexpected losers: %+v", m.Losers)
	}
	if m.Gainers[0].Symbol != "SOL" {
		t.Errorf("Expected upper-case symbol, got %s", m.Gainers[0].Symbol)
	}

	small := TopMovers(sampleView().GetView()[:1], 0)
	if len(small.Gainers) != 1 || len(small.Losers) != 1 {
		t.Errorf("Expected lists capped at view size, got %+v", small)
	}
}

func TestDashboard_Insights(t *testing.T) {
	up := row("rising", "Rising", "rise", 1, 100, 1, 0)
	up.Sparkline = []decimal.Decimal{
		decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3),
		decimal.NewFromInt(2), decimal.NewFromInt(4), decimal.NewFromInt(5), decimal.NewFromInt(6),
	}
	breakout := row("hot", "Hot", "hot", 1, 100, 10, 0)
	flat := row("flat", "Flat", "flat", 1, 0, 10, 0)

	d, _ := NewDashboard(staticView{up, breakout, flat}, newMemStore())
	ins := d.Insights()

	if len(ins.UpwardTrend) != 1 || ins.UpwardTrend[0] != "RISE" {
		t.Errorf("unexpected upward list: %v", ins.UpwardTrend)
	}
	if len(ins.Breakout) != 1 || ins.Breakout[0] != "HOT" {
		t.Errorf("unexpected breakout list: %v", ins.Breakout)
	}
}
