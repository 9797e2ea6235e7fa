// Package indicators computes technical indicators over closed candles.
// Every function is pure and reports ok=false instead of failing when history is short.
package indicators

import (
	"math"

	"binance-regime-grid-go/internal/models"
)

// EMA returns the exponential moving average seeded with the SMA of the first period values.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	ema := mean(values[:period])
	alpha := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*alpha + ema*(1-alpha)
	}
	return ema, true
}

// RSI returns Wilder's relative strength index.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50, true
	case avgLoss == 0:
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// TrueRange returns the per-candle true range. The first candle has no previous close.
func TrueRange(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			out[i] = c.High - c.Low
			continue
		}
		prev := candles[i-1].Close
		out[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
	}
	return out
}

// ATR returns the Wilder-smoothed average true range.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	tr := TrueRange(candles)
	atr := mean(tr[:period])
	p := float64(period)
	for _, v := range tr[period:] {
		atr = (atr*(p-1) + v) / p
	}
	return atr, true
}

// ADX returns the average directional index.
func ADX(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < 2*period {
		return 0, false
	}

	n := len(candles) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		tr[i-1] = math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	var sTR, sPlus, sMinus float64
	for i := 0; i < period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	p := float64(period)
	dx := make([]float64, 0, n-period+1)
	dx = append(dx, directionalIndex(sTR, sPlus, sMinus))
	for i := period; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		dx = append(dx, directionalIndex(sTR, sPlus, sMinus))
	}
	if len(dx) < period {
		return 0, false
	}

	adx := mean(dx[:period])
	for _, v := range dx[period:] {
		adx = (adx*(p-1) + v) / p
	}
	return adx, true
}

// Bands is a Bollinger envelope.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	StdDev float64
}

// Bollinger returns mean ± k·σ over the trailing period closes, σ being the population deviation.
func Bollinger(closes []float64, period int, k float64) (Bands, bool) {
	if period <= 0 || len(closes) < period {
		return Bands{}, false
	}
	window := closes[len(closes)-period:]
	m := mean(window)
	var sq float64
	for _, v := range window {
		sq += (v - m) * (v - m)
	}
	sd := math.Sqrt(sq / float64(period))
	return Bands{Upper: m + sd*k, Middle: m, Lower: m - sd*k, StdDev: sd}, true
}

// SMA returns the simple mean of the trailing period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	return mean(values[len(values)-period:]), true
}

func directionalIndex(sTR, sPlus, sMinus float64) float64 {
	if sTR == 0 {
		return 0
	}
	plusDI := 100 * sPlus / sTR
	minusDI := 100 * sMinus / sTR
	den := plusDI + minusDI
	if den == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / den
}

func split(diff float64) (gain, loss float64) {
	if diff > 0 {
		return diff, 0
	}
	return 0, -diff
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
