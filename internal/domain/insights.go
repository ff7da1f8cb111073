package domain

import "github.com/shopspring/decimal"

var (
	// UpwardTrendRatio is the share of rising consecutive samples above which a
	// sparkline counts as a consistent upward trend.
	UpwardTrendRatio = decimal.NewFromFloat(0.7)

	// BreakoutVolumeRatio is the volume / market cap ratio above which an asset is
	// flagged as a potential breakout.
	BreakoutVolumeRatio = decimal.NewFromFloat(0.05)
)

// IsConsistentUpward reports whether more than 70% of consecutive deltas in the
// samples are strictly positive. Fewer than two samples never qualify.
func IsConsistentUpward(samples []decimal.Decimal) bool {
	if len(samples) < 2 {
		return false
	}
	up := 0
	for i := 1; i < len(samples); i++ {
		if samples[i].GreaterThan(samples[i-1]) {
			up++
		}
	}
	ratio := decimal.NewFromInt(int64(up)).Div(decimal.NewFromInt(int64(len(samples) - 1)))
	return ratio.GreaterThan(UpwardTrendRatio)
}

// IsPotentialBreakout reports whether volume / market cap exceeds threshold.
// A non-positive market cap is never a breakout.
func IsPotentialBreakout(volume, marketCap, threshold decimal.Decimal) bool {
	if !marketCap.IsPositive() {
		return false
	}
	return volume.Div(marketCap).GreaterThan(threshold)
}

// IsConsistentUpward applies the trend heuristic to the asset's 7d sparkline.
func (a *AggregatedAsset) IsConsistentUpward() bool {
	return IsConsistentUpward(a.Sparkline)
}

// IsPotentialBreakout applies the default breakout threshold to the asset.
func (a *AggregatedAsset) IsPotentialBreakout() bool {
	return IsPotentialBreakout(a.Volume24h, a.MarketCap, BreakoutVolumeRatio)
}
