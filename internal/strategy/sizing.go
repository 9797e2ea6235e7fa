package strategy

import (
	"math"

	"binance-regime-grid-go/internal/models"
)

// SizingInput carries everything position sizing needs.
type SizingInput struct {
	Entry           float64
	Stop            float64
	QuoteToHomeRate float64
	SlippageBps     float64
	Risk            models.RiskSettings
	Rules           models.SymbolRules
}

// Size returns a step-aligned quantity, or zero with the reason it was rejected.
//
// riskCapital = maxNotional * riskFraction (home units). The raw size is
// riskCapital over the per-unit stop distance in home units, shaved by the
// slippage haircut and capped at maxNotional worth of the asset.
func Size(in SizingInput) (float64, models.ReasonCode) {
	if in.QuoteToHomeRate <= 0 || in.Entry <= 0 || !finite(in.Entry, in.Stop, in.QuoteToHomeRate) {
		return 0, models.ReasonInvalidSize
	}

	riskCapital := in.Risk.MaxPositionNotional * in.Risk.RiskPerTradeFraction
	perUnit := math.Abs(in.Entry-in.Stop) * in.QuoteToHomeRate

	var raw float64
	if perUnit > 0 {
		raw = riskCapital / perUnit
	}
	raw *= 1 - in.SlippageBps/10000

	maxQty := in.Risk.MaxPositionNotional / (in.Entry * in.QuoteToHomeRate)
	raw = math.Min(raw, maxQty)

	qty := in.Rules.FloorQty(raw)
	switch {
	case math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0:
		return 0, models.ReasonInvalidSize
	case qty < in.Rules.MinQty:
		return 0, models.ReasonBelowMinQty
	case qty*in.Entry < in.Rules.MinNotional:
		return 0, models.ReasonBelowMinNotional
	}
	return qty, models.ReasonNone
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
