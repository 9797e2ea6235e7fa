package strategy

import (
	"math"

	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"
)

// Confidence blends ADX strength, RSI proximity to the regime ideal, volume
// against its average and stop tightness into a 0..1 score. Valid entries map
// into [0.2, 1.0]; invalid ones are clamped into [0.15, 0.5].
func Confidence(regime models.Regime, s indicators.Snapshot, entry, stop float64, valid bool) float64 {
	var adxScore, rsiScore, volScore, stopScore float64

	if s.ADX14 != nil {
		adxScore = clamp((*s.ADX14-trendAdxMin)/20, 0, 1)
	}
	if s.RSI14 != nil {
		rsiScore = clamp(1-math.Abs(*s.RSI14-idealRSI(regime))/50, 0, 1)
	}
	if s.Volume != nil && s.AvgVolume != nil && *s.AvgVolume > 0 {
		volScore = clamp(*s.Volume / *s.AvgVolume, 0, 1)
	}
	if atr := indicators.Value(s.ATR14, 0); atr > 0 && stop > 0 {
		d := math.Abs(entry-stop) / atr
		stopScore = clamp((3-d)/2, 0, 1)
	}

	avg := (adxScore + rsiScore + volScore + stopScore) / 4
	if !finite(avg) {
		avg = 0
	}
	if valid {
		return 0.2 + 0.8*avg
	}
	return clamp(avg, 0.15, 0.5)
}

func idealRSI(regime models.Regime) float64 {
	switch regime {
	case models.RegimeTrend:
		return 55
	case models.RegimeRange:
		return 30
	default:
		return 50
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
