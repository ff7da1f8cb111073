package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetID is the canonical identifier of a tracked asset (catalog id, e.g. "bitcoin").
type AssetID string

// NormalizeAssetID lowercases and trims a raw identifier so that ids coming from the
// catalog and from the streaming feeds compare equal.
func NormalizeAssetID(raw string) AssetID {
	return AssetID(strings.ToLower(strings.TrimSpace(raw)))
}

func (id AssetID) String() string {
	return string(id)
}

// AssetSnapshot is one row of the periodic catalog pull.
// It is never patched: the next successful fetch supersedes it.
type AssetSnapshot struct {
	ID        AssetID           `json:"id"`
	Name      string            `json:"name"`
	Symbol    string            `json:"symbol"`
	Price     decimal.Decimal   `json:"price"`
	Change1h  decimal.Decimal   `json:"change_1h"`
	Change24h decimal.Decimal   `json:"change_24h"`
	Change7d  decimal.Decimal   `json:"change_7d"`
	MarketCap decimal.Decimal   `json:"market_cap"`
	Volume24h decimal.Decimal   `json:"volume_24h"`
	Sparkline []decimal.Decimal `json:"sparkline_7d"` // most recent last
	LogoURL   string            `json:"logo_url"`
}

// SnapshotBatch is the result of one successful fetch cycle.
type SnapshotBatch struct {
	Assets    []AssetSnapshot
	Seq       uint64
	FetchedAt time.Time
}

// Liveness tells where the displayed price came from.
type Liveness string

const (
	LivenessSnapshot Liveness = "snapshot"
	LivenessLive     Liveness = "live"
)

// Tick sources
const (
	SourceSnapshot = "coingecko"
	SourceBinance  = "binance"
	SourceCoinCap  = "coincap"
)

// LiveTick is a single incremental push update for one asset.
type LiveTick struct {
	AssetID    AssetID          `json:"asset_id"`
	Price      decimal.Decimal  `json:"price"`
	Change24h  *decimal.Decimal `json:"change_24h,omitempty"`
	Volume24h  *decimal.Decimal `json:"volume_24h,omitempty"`
	Seq        uint64           `json:"seq"`
	ReceivedAt time.Time        `json:"received_at"`
	Source     string           `json:"source"`
}

// AggregatedAsset is the merged view-model record.
// Non-price fields always come from the latest snapshot; Price (and Change24h /
// Volume24h when the tick carries them) come from the newest of snapshot and tick.
type AggregatedAsset struct {
	AssetSnapshot
	Liveness  Liveness  `json:"liveness"`
	Source    string    `json:"source"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}

// NewAggregatedAsset builds a record from snapshot fields only.
func NewAggregatedAsset(s AssetSnapshot, seq uint64, at time.Time) AggregatedAsset {
	return AggregatedAsset{
		AssetSnapshot: s,
		Liveness:      LivenessSnapshot,
		Source:        SourceSnapshot,
		Seq:           seq,
		UpdatedAt:     at,
	}
}

// ApplyTick overwrites the price-related fields with the tick's values.
// Ordering is the caller's concern.
func (a *AggregatedAsset) ApplyTick(t LiveTick) {
	a.Price = t.Price
	if t.Change24h != nil {
		a.Change24h = *t.Change24h
	}
	if t.Volume24h != nil {
		a.Volume24h = *t.Volume24h
	}
	a.Liveness = LivenessLive
	a.Source = t.Source
	a.Seq = t.Seq
	a.UpdatedAt = t.ReceivedAt
}

// ChangeDirection returns "positive", "negative", or "neutral" for the 24h change.
func (a *AggregatedAsset) ChangeDirection() string {
	if a.Change24h.IsPositive() {
		return "positive"
	}
	if a.Change24h.IsNegative() {
		return "negative"
	}
	return "neutral"
}

// TrendDirection colors the 7d sparkline: "up" when the 7d change is >= 0.
func (a *AggregatedAsset) TrendDirection() string {
	if a.Change7d.IsNegative() {
		return "down"
	}
	return "up"
}
