// Package strategy turns indicator snapshots into sized, per-horizon trading plans.
package strategy

import (
	"math"

	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"
)

const (
	trendAdxMin = 20.0
	rangeAdxMax = 18.0

	trendRSILow     = 45.0
	trendRSIHigh    = 70.0
	trendEMABandATR = 0.5 // price must sit within this many ATRs of EMA20

	rangeRSIMax     = 35.0
	rangeBandFactor = 0.25 // entry zone above the lower band, as a share of mid-lower
)

// Classify derives the market regime and directional bias from a snapshot.
// Any missing indicator yields NEUTRAL with a BUY bias.
func Classify(s indicators.Snapshot) (models.Regime, models.Side) {
	if !s.Complete() {
		return models.RegimeNeutral, models.Buy
	}
	adx, ema20, ema50 := *s.ADX14, *s.EMA20, *s.EMA50
	switch {
	case adx > trendAdxMin && ema20 != ema50:
		if ema20 > ema50 {
			return models.RegimeTrend, models.Buy
		}
		return models.RegimeTrend, models.Sell
	case adx < rangeAdxMax:
		return models.RegimeRange, models.Buy
	default:
		return models.RegimeNeutral, models.Buy
	}
}

// entryValid applies the regime entry gate at price.
func entryValid(regime models.Regime, bias models.Side, s indicators.Snapshot, price float64) bool {
	if !s.Complete() || price <= 0 {
		return false
	}
	rsi := *s.RSI14
	switch {
	case regime == models.RegimeTrend && bias == models.Buy:
		return rsi >= trendRSILow && rsi <= trendRSIHigh &&
			math.Abs(price-*s.EMA20) <= trendEMABandATR*(*s.ATR14)
	case regime == models.RegimeRange:
		zone := *s.BBLower + rangeBandFactor*(*s.BBMiddle-*s.BBLower)
		return rsi < rangeRSIMax && price <= zone
	default:
		return false
	}
}
