package strategy

import (
	"fmt"
	"math"
	"time"

	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"
)

const (
	trendStopATR   = 1.5
	trendTargetATR = 2.5
	rangeStopATR   = 1.2
	rangeTightATR  = 0.015 // ATR/entry below this targets the middle band
	bearishATR     = 1.2
	defaultStopATR = 1.2
	defaultTgtATR  = 1.6

	breakevenNote = "move stop to breakeven after +1.0 ATR, then trail 1.5 ATR behind the best price"
)

// PlanInput is the full input of BuildPlan.
type PlanInput struct {
	Symbol        string
	Horizon       models.Horizon
	Interval      string
	HoldMinutes   int
	Snapshot      indicators.Snapshot
	Market        models.MarketSnapshot
	Risk          models.RiskSettings
	SlippageBps   float64
	Rules         models.SymbolRules
	EntriesPaused bool
	Now           time.Time
}

// BuildPlan produces the plan for one horizon. It never fails: problems are
// expressed as a zero quantity plus a reason code in the signal list.
func BuildPlan(in PlanInput) models.StrategyPlan {
	s := in.Snapshot
	regime, bias := Classify(s)

	price := in.Market.Price
	if price <= 0 || !finite(price) {
		price = indicators.Value(s.Close, 0)
	}
	entry := in.Rules.FloorPrice(price)
	valid := entryValid(regime, bias, s, entry)

	side := models.Buy
	bearish := regime == models.RegimeTrend && bias == models.Sell
	if bearish {
		side = models.Sell
	}

	plan := models.StrategyPlan{
		Symbol:    in.Symbol,
		Horizon:   in.Horizon,
		Interval:  in.Interval,
		Regime:    regime,
		Bias:      bias,
		Entry:     models.EntryPlan{Side: side, Price: entry},
		Exit:      models.ExitPlan{HoldMinutes: in.HoldMinutes},
		CreatedAt: in.Now,
	}
	plan.Signals = describe(s, regime, bias)

	atr := indicators.Value(s.ATR14, 0)
	stop, target, ok := levels(regime, bias, valid, entry, atr, s)
	if ok {
		stop = in.Rules.RoundPrice(stop)
		target = in.Rules.RoundPrice(target)
		plan.Exit.StopLoss = stop
		plan.Exit.TakeProfits = []float64{target}
	}
	if valid && regime == models.RegimeTrend {
		plan.Signals = append(plan.Signals, breakevenNote)
	}

	plan.EntryOK = valid && ok && sidesOK(side, entry, stop, target)
	plan.Thesis = thesis(regime, bias, valid)

	switch {
	case !valid:
		plan.Reason = models.ReasonNoEntry
	case !ok:
		plan.Reason = models.ReasonNoStop
	case !plan.EntryOK:
		plan.Reason = models.ReasonNoEntry
	case in.EntriesPaused:
		plan.Reason = models.ReasonEntriesPaused
	default:
		plan.Entry.Quantity, plan.Reason = Size(SizingInput{
			Entry:           entry,
			Stop:            stop,
			QuoteToHomeRate: in.Market.QuoteToHomeRate,
			SlippageBps:     in.SlippageBps,
			Risk:            in.Risk,
			Rules:           in.Rules,
		})
	}
	if plan.Reason != models.ReasonNone {
		plan.Signals = append(plan.Signals, "reason="+string(plan.Reason))
	}

	if ok {
		if risk := math.Abs(entry - stop); risk > 0 {
			plan.RiskReward = math.Abs(target-entry) / risk
		}
	}
	if q := plan.Entry.Quantity; q > 0 {
		plan.FeeEstimate = q*entry*in.Risk.MakerFeeRate + q*target*in.Risk.TakerFeeRate
	}
	plan.Entry.Confidence = Confidence(regime, s, entry, plan.Exit.StopLoss, plan.EntryOK)
	return plan
}

// levels returns the stop and first target for the regime, or ok=false when no stop can be derived.
func levels(regime models.Regime, bias models.Side, valid bool, entry, atr float64, s indicators.Snapshot) (stop, target float64, ok bool) {
	if entry <= 0 || atr <= 0 || !finite(atr) {
		return 0, 0, false
	}
	switch {
	case valid && regime == models.RegimeTrend:
		return entry - trendStopATR*atr, entry + trendTargetATR*atr, true
	case valid && regime == models.RegimeRange:
		target = *s.BBUpper
		if atr/entry < rangeTightATR {
			target = *s.BBMiddle
		}
		return entry - rangeStopATR*atr, target, true
	case regime == models.RegimeTrend && bias == models.Sell:
		return entry + bearishATR*atr, entry - bearishATR*atr, true
	default:
		return entry - defaultStopATR*atr, entry + defaultTgtATR*atr, true
	}
}

func sidesOK(side models.Side, entry, stop, target float64) bool {
	if side == models.Sell {
		return target < entry && entry < stop
	}
	return stop < entry && entry < target
}

func thesis(regime models.Regime, bias models.Side, valid bool) string {
	switch {
	case regime == models.RegimeTrend && bias == models.Sell:
		return "bearish trend: avoid longs, spot venue is long-only"
	case regime == models.RegimeTrend && valid:
		return "bullish trend pullback near EMA20 with healthy RSI"
	case regime == models.RegimeTrend:
		return "bullish trend but entry conditions not met; wait for a pullback"
	case regime == models.RegimeRange && valid:
		return "range-bound: oversold near the lower band, target mean reversion"
	case regime == models.RegimeRange:
		return "range-bound: price not yet in the lower band zone"
	default:
		return "no clear regime; stand aside"
	}
}

func describe(s indicators.Snapshot, regime models.Regime, bias models.Side) []string {
	out := []string{"regime=" + string(regime), "bias=" + string(bias)}
	add := func(name string, v *float64) {
		if v != nil {
			out = append(out, fmt.Sprintf("%s=%.2f", name, *v))
		}
	}
	add("adx", s.ADX14)
	add("rsi", s.RSI14)
	add("atr", s.ATR14)
	if s.Volume != nil && s.AvgVolume != nil && *s.AvgVolume > 0 {
		out = append(out, fmt.Sprintf("vol_ratio=%.2f", *s.Volume / *s.AvgVolume))
	}
	return out
}
