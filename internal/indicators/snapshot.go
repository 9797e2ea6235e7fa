package indicators

import (
	"time"

	"binance-regime-grid-go/internal/models"
)

const (
	volumePeriod    = 20
	fastEMAPeriod   = 20
	slowEMAPeriod   = 50
	rsiPeriod       = 14
	atrPeriod       = 14
	adxPeriod       = 14
	bollingerPeriod = 20
	bollingerK      = 2.0
)

// Snapshot is the indicator view of one symbol/interval. A nil field means
// there was not enough history to compute it.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	AsOf      time.Time `json:"as_of"`
	Close     *float64  `json:"close"`
	Volume    *float64  `json:"volume"`
	AvgVolume *float64  `json:"avg_volume_20"`
	EMA20     *float64  `json:"ema_20"`
	EMA50     *float64  `json:"ema_50"`
	RSI14     *float64  `json:"rsi_14"`
	ATR14     *float64  `json:"atr_14"`
	ADX14     *float64  `json:"adx_14"`
	BBUpper   *float64  `json:"bb_upper"`
	BBMiddle  *float64  `json:"bb_middle"`
	BBLower   *float64  `json:"bb_lower"`
	BBStdDev  *float64  `json:"bb_stddev"`
}

// Compute builds a snapshot from candles ordered oldest first.
func Compute(symbol, interval string, candles []models.Candle, asOf time.Time) Snapshot {
	s := Neutral(symbol, interval, asOf)
	if len(candles) == 0 {
		return s
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := candles[len(candles)-1]
	s.Close = ptr(last.Close)
	s.Volume = ptr(last.Volume)

	s.AvgVolume = opt(SMA(volumes, volumePeriod))
	s.EMA20 = opt(EMA(closes, fastEMAPeriod))
	s.EMA50 = opt(EMA(closes, slowEMAPeriod))
	s.RSI14 = opt(RSI(closes, rsiPeriod))
	s.ATR14 = opt(ATR(candles, atrPeriod))
	s.ADX14 = opt(ADX(candles, adxPeriod))
	if b, ok := Bollinger(closes, bollingerPeriod, bollingerK); ok {
		s.BBUpper = ptr(b.Upper)
		s.BBMiddle = ptr(b.Middle)
		s.BBLower = ptr(b.Lower)
		s.BBStdDev = ptr(b.StdDev)
	}
	return s
}

// Neutral is the all-absent snapshot used when market data cannot be fetched.
func Neutral(symbol, interval string, asOf time.Time) Snapshot {
	return Snapshot{Symbol: symbol, Interval: interval, AsOf: asOf}
}

// Complete reports whether every indicator the regime classifier needs is present.
func (s Snapshot) Complete() bool {
	return s.Close != nil && s.EMA20 != nil && s.EMA50 != nil && s.RSI14 != nil &&
		s.ATR14 != nil && s.ADX14 != nil && s.BBMiddle != nil && s.BBLower != nil && s.BBUpper != nil
}

// Value dereferences an optional indicator, returning def when absent.
func Value(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func ptr(v float64) *float64 {
	return &v
}

func opt(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
