package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"crypto_view/internal/domain"

	"github.com/shopspring/decimal"
)

// Sort keys accepted by Rows.
const (
	SortMarketCap = "market_cap"
	SortPrice     = "price"
	SortChange1h  = "change_1h"
	SortChange24h = "change_24h"
	SortChange7d  = "change_7d"
	SortVolume    = "volume"
	SortName      = "name"
	SortSymbol    = "symbol"

	SortAsc  = "asc"
	SortDesc = "desc"

	defaultMovers = 5
)

// ViewSource is the read side of the aggregator.
type ViewSource interface {
	GetView() []domain.AggregatedAsset
}

// RowQuery selects and orders table rows.
type RowQuery struct {
	Search        string
	FavoritesOnly bool
	SortKey       string
	Direction     string
	Limit         int
}

// Row is one table line of the dashboard.
type Row struct {
	domain.AggregatedAsset
	Rank          int              `json:"rank"`
	IsFavorite    bool             `json:"is_favorite"`
	Holding       *decimal.Decimal `json:"holding,omitempty"`
	HoldingValue  *decimal.Decimal `json:"holding_value,omitempty"`
	Direction     string           `json:"direction"`
	Trend         string           `json:"trend"`
	UpwardTrend   bool             `json:"upward_trend"`
	BreakoutAlert bool             `json:"breakout"`
}

// Mover is an entry in the top gainers / losers lists.
type Mover struct {
	ID        domain.AssetID  `json:"id"`
	Symbol    string          `json:"symbol"`
	Change24h decimal.Decimal `json:"change_24h"`
}

// Movers holds the top gainers and losers by 24h change.
type Movers struct {
	Gainers []Mover `json:"gainers"`
	Losers  []Mover `json:"losers"`
}

// Insights lists symbols flagged by the heuristics.
type Insights struct {
	UpwardTrend []string `json:"upward_trend"`
	Breakout    []string `json:"breakout"`
}

// Position is one valued holding.
type Position struct {
	ID       domain.AssetID  `json:"id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

// Portfolio is the valued set of holdings.
type Portfolio struct {
	Total     decimal.Decimal `json:"total"`
	Positions []Position      `json:"positions"`
}

// Dashboard is the presentation layer: it reads the aggregator and owns the
// user preferences (favorites, holdings).
type Dashboard struct {
	view  ViewSource
	store domain.PreferenceStore

	mu        sync.RWMutex
	favorites []domain.AssetID
	holdings  map[domain.AssetID]decimal.Decimal
}

// NewDashboard loads preferences from store and returns a ready dashboard.
func NewDashboard(view ViewSource, store domain.PreferenceStore) (*Dashboard, error) {
	favs, err := store.LoadFavorites()
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	holdings, err := store.LoadHoldings()
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	if holdings == nil {
		holdings = make(map[domain.AssetID]decimal.Decimal)
	}
	return &Dashboard{
		view:      view,
		store:     store,
		favorites: favs,
		holdings:  holdings,
	}, nil
}

// Favorites returns the ordered favorites list.
func (d *Dashboard) Favorites() []domain.AssetID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.AssetID, len(d.favorites))
	copy(out, d.favorites)
	return out
}

// ToggleFavorite adds or removes id and rewrites the stored list in full.
// Returns the new favorite state.
func (d *Dashboard) ToggleFavorite(id domain.AssetID) (bool, error) {
	id = domain.NormalizeAssetID(string(id))

	d.mu.Lock()
	defer d.mu.Unlock()

	updated := make([]domain.AssetID, 0, len(d.favorites)+1)
	found := false
	for _, f := range d.favorites {
		if f == id {
			found = true
			continue
		}
		updated = append(updated, f)
	}
	if !found {
		updated = append(updated, id)
	}

	if err := d.store.SaveFavorites(updated); err != nil {
		return found, fmt.Errorf("save favorites: %w", err)
	}
	d.favorites = updated
	return !found, nil
}

// SetHolding records a quantity for id. Zero removes the holding.
func (d *Dashboard) SetHolding(id domain.AssetID, quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return domain.ErrNegativeQuantity
	}
	id = domain.NormalizeAssetID(string(id))

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.SaveHolding(id, quantity); err != nil {
		return fmt.Errorf("save holding: %w", err)
	}
	if quantity.IsZero() {
		delete(d.holdings, id)
	} else {
		d.holdings[id] = quantity
	}
	return nil
}

// Rows returns filtered, sorted and ranked table rows.
func (d *Dashboard) Rows(q RowQuery) []Row {
	assets := d.view.GetView()

	d.mu.RLock()
	favSet := make(map[domain.AssetID]bool, len(d.favorites))
	for _, f := range d.favorites {
		favSet[f] = true
	}
	holdings := make(map[domain.AssetID]decimal.Decimal, len(d.holdings))
	for k, v := range d.holdings {
		holdings[k] = v
	}
	d.mu.RUnlock()

	filtered := FilterAssets(assets, q.Search)
	if q.FavoritesOnly {
		kept := filtered[:0]
		for _, a := range filtered {
			if favSet[a.ID] {
				kept = append(kept, a)
			}
		}
		filtered = kept
	}

	SortAssets(filtered, q.SortKey, q.Direction)
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	rows := make([]Row, 0, len(filtered))
	for i, a := range filtered {
		row := Row{
			AggregatedAsset: a,
			Rank:            i + 1,
			IsFavorite:      favSet[a.ID],
			Direction:       a.ChangeDirection(),
			Trend:           a.TrendDirection(),
			UpwardTrend:     a.IsConsistentUpward(),
			BreakoutAlert:   a.IsPotentialBreakout(),
		}
		if qty, ok := holdings[a.ID]; ok {
			value := qty.Mul(a.Price)
			row.Holding = &qty
			row.HoldingValue = &value
		}
		rows = append(rows, row)
	}
	return rows
}

// Row returns a single row by id.
func (d *Dashboard) Row(id domain.AssetID) (Row, error) {
	id = domain.NormalizeAssetID(string(id))
	for _, r := range d.Rows(RowQuery{}) {
		if r.ID == id {
			return r, nil
		}
	}
	return Row{}, fmt.Errorf("%s: %w", id, domain.ErrUnknownAsset)
}

// Movers returns the top n gainers and losers by 24h change.
func (d *Dashboard) Movers(n int) Movers {
	return TopMovers(d.view.GetView(), n)
}

// Insights runs the trend and breakout heuristics over the current view.
func (d *Dashboard) Insights() Insights {
	assets := d.view.GetView()
	SortAssets(assets, SortMarketCap, SortDesc)

	out := Insights{UpwardTrend: []string{}, Breakout: []string{}}
	for _, a := range assets {
		if a.IsConsistentUpward() {
			out.UpwardTrend = append(out.UpwardTrend, strings.ToUpper(a.Symbol))
		}
		if a.IsPotentialBreakout() {
			out.Breakout = append(out.Breakout, strings.ToUpper(a.Symbol))
		}
	}
	return out
}

// Portfolio values every holding at the current price.
func (d *Dashboard) Portfolio() Portfolio {
	d.mu.RLock()
	holdings := make(map[domain.AssetID]decimal.Decimal, len(d.holdings))
	for k, v := range d.holdings {
		holdings[k] = v
	}
	d.mu.RUnlock()

	return ValuePortfolio(d.view.GetView(), holdings)
}

// FilterAssets keeps assets whose name or symbol contains search, case-insensitively.
func FilterAssets(assets []domain.AggregatedAsset, search string) []domain.AggregatedAsset {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return assets
	}
	out := make([]domain.AggregatedAsset, 0, len(assets))
	for _, a := range assets {
		if strings.Contains(strings.ToLower(a.Name), needle) || strings.Contains(strings.ToLower(a.Symbol), needle) {
			out = append(out, a)
		}
	}
	return out
}

// SortAssets orders assets in place. Unknown keys fall back to market cap and
// unknown directions to descending. Ties are broken by id.
func SortAssets(assets []domain.AggregatedAsset, key, direction string) {
	if direction != SortAsc {
		direction = SortDesc
	}
	less := lessFor(key)
	sort.SliceStable(assets, func(i, j int) bool {
		a, b := &assets[i], &assets[j]
		if c := less(a, b); c != 0 {
			if direction == SortAsc {
				return c < 0
			}
			return c > 0
		}
		return a.ID < b.ID
	})
}

func lessFor(key string) func(a, b *domain.AggregatedAsset) int {
	dec := func(f func(*domain.AggregatedAsset) decimal.Decimal) func(a, b *domain.AggregatedAsset) int {
		return func(a, b *domain.AggregatedAsset) int { return f(a).Cmp(f(b)) }
	}
	switch key {
	case SortPrice:
		return dec(func(a *domain.AggregatedAsset) decimal.Decimal { return a.Price })
	case SortChange1h:
		return dec(func(a *domain.AggregatedAsset) decimal.Decimal { return a.Change1h })
	case SortChange24h:
		return dec(func(a *domain.AggregatedAsset) decimal.Decimal { return a.Change24h })
	case SortChange7d:
		return dec(func(a *domain.AggregatedAsset) decimal.Decimal { return a.Change7d })
	case SortVolume:
		return dec(func(a *domain.AggregatedAsset) decimal.Decimal { return a.Volume24h })
	case SortName:
		return func(a, b *domain.AggregatedAsset) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	case SortSymbol:
		return func(a, b *domain.AggregatedAsset) int {
			return strings.Compare(strings.ToLower(a.Symbol), strings.ToLower(b.Symbol))
		}
	default:
		return dec(func(a *domain.AggregatedAsset) decimal.Decimal { return a.MarketCap })
	}
}

// TopMovers returns the n best and n worst assets by 24h change.
func TopMovers(assets []domain.AggregatedAsset, n int) Movers {
	if n <= 0 {
		n = defaultMovers
	}
	sorted := make([]domain.AggregatedAsset, len(assets))
	copy(sorted, assets)

	SortAssets(sorted, SortChange24h, SortDesc)
	gainers := toMovers(sorted, n)

	SortAssets(sorted, SortChange24h, SortAsc)
	losers := toMovers(sorted, n)

	return Movers{Gainers: gainers, Losers: losers}
}

func toMovers(assets []domain.AggregatedAsset, n int) []Mover {
	if len(assets) < n {
		n = len(assets)
	}
	out := make([]Mover, n)
	for i := 0; i < n; i++ {
		out[i] = Mover{ID: assets[i].ID, Symbol: strings.ToUpper(assets[i].Symbol), Change24h: assets[i].Change24h}
	}
	return out
}

// ValuePortfolio computes sum(quantity * current price). Holdings for assets not in
// the view contribute zero but are still listed.
func ValuePortfolio(assets []domain.AggregatedAsset, holdings map[domain.AssetID]decimal.Decimal) Portfolio {
	byID := make(map[domain.AssetID]*domain.AggregatedAsset, len(assets))
	for i := range assets {
		byID[assets[i].ID] = &assets[i]
	}

	p := Portfolio{Total: decimal.Zero, Positions: make([]Position, 0, len(holdings))}
	for id, qty := range holdings {
		pos := Position{ID: id, Quantity: qty, Price: decimal.Zero, Value: decimal.Zero}
		if a, ok := byID[id]; ok {
			pos.Symbol = strings.ToUpper(a.Symbol)
			pos.Price = a.Price
			pos.Value = qty.Mul(a.Price)
		}
		p.Total = p.Total.Add(pos.Value)
		p.Positions = append(p.Positions, pos)
	}

	sort.Slice(p.Positions, func(i, j int) bool {
		if c := p.Positions[i].Value.Cmp(p.Positions[j].Value); c != 0 {
			return c > 0
		}
		return p.Positions[i].ID < p.Positions[j].ID
	})
	return p
}
