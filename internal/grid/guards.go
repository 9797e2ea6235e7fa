package grid

import (
	"math"
	"time"

	"binance-regime-grid-go/internal/governor"
	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"
)

// GuardInput is what the guards look at on one tick.
type GuardInput struct {
	Price       float64
	Snapshot    indicators.Snapshot
	QuoteVolume *float64 // 24h quote volume; nil when the ticker is unavailable
}

// GuardResult reports which guards fired on a tick.
type GuardResult struct {
	Breakdown      bool
	Trending       bool
	Volatile       bool
	Illiquid       bool
	BreakdownTicks int
}

// Trend reports whether the trend guard fired.
func (r GuardResult) Trend() bool {
	return r.Breakdown || r.Trending || r.Volatile
}

// Any reports whether any guard fired.
func (r GuardResult) Any() bool {
	return r.Trend() || r.Illiquid
}

// Reason returns the pause reason for this result. Trend is evaluated before
// liquidity, so a simultaneous breach reports trend.
func (r GuardResult) Reason() models.PauseReason {
	switch {
	case r.Trend():
		return models.PauseTrend
	case r.Illiquid:
		return models.PauseLiquidity
	default:
		return models.PauseNone
	}
}

// EvaluateGuards runs the trend and liquidity guards. It returns the new
// trending flag alongside the result; the caller stores both on the grid.
func EvaluateGuards(g *models.GridState, in GuardInput, cfg models.GuardConfig) (GuardResult, bool) {
	var r GuardResult

	floor := g.LowerPrice * (1 - cfg.GridBreakdownPct/100)
	if validPrice(in.Price) && in.Price < floor {
		r.BreakdownTicks = g.BreakdownTicks + 1
	}
	r.Breakdown = cfg.GridBreakdownTicks > 0 && r.BreakdownTicks >= cfg.GridBreakdownTicks

	trending := governor.NextTrending(g.Trending, in.Snapshot.ADX14, cfg.TrendAdxOn, cfg.TrendAdxOff)
	r.Trending = trending

	if atr := in.Snapshot.ATR14; atr != nil && validPrice(in.Price) && cfg.GridAtrPctMax > 0 {
		pct := *atr / in.Price * 100
		r.Volatile = !math.IsNaN(pct) && !math.IsInf(pct, 0) && pct > cfg.GridAtrPctMax
	}

	if v := in.QuoteVolume; v != nil && !math.IsNaN(*v) && cfg.MinQuoteVolumeForLiquidity > 0 {
		r.Illiquid = *v < cfg.MinQuoteVolumeForLiquidity
	}
	return r, trending
}

// Transition describes how the pause flag moved on a tick.
type Transition string

const (
	TransitionNone    Transition = ""
	TransitionPaused  Transition = "paused"
	TransitionResumed Transition = "resumed"
	TransitionReason  Transition = "reason_changed"
)

// ApplyPause advances the buy-pause state machine of g in place.
//
// A firing guard pauses immediately. While paused, any firing guard resets the
// clean-tick streak; a trend breach also upgrades a liquidity pause to trend
// and restarts its clock. Resuming needs both the streak and the minimum time
// for the current reason.
func ApplyPause(g *models.GridState, r GuardResult, now time.Time, cfg models.GuardConfig) Transition {
	if !g.BuyPaused {
		if reason := r.Reason(); reason != models.PauseNone {
			g.BuyPaused = true
			g.PauseReason = reason
			g.PausedAt = now
			g.GoodTicks = 0
			return TransitionPaused
		}
		return TransitionNone
	}

	if r.Any() {
		g.GoodTicks = 0
		if r.Trend() && g.PauseReason != models.PauseTrend {
			g.PauseReason = models.PauseTrend
			g.PausedAt = now
			return TransitionReason
		}
		return TransitionNone
	}

	g.GoodTicks++
	ticks, wait := cfg.GridResumeTicks, time.Duration(cfg.GridResumeMinutes)*time.Minute
	if g.PauseReason == models.PauseLiquidity {
		ticks, wait = cfg.LiquidityResumeTicks, time.Duration(cfg.LiquidityResumeMinutes)*time.Minute
	}
	if g.GoodTicks >= ticks && now.Sub(g.PausedAt) >= wait {
		g.BuyPaused = false
		g.PauseReason = models.PauseNone
		g.PausedAt = time.Time{}
		g.GoodTicks = 0
		return TransitionResumed
	}
	return TransitionNone
}

// BreakoutStop reports whether price has fallen through the terminal stop.
func BreakoutStop(g *models.GridState, price, stopPct float64) bool {
	return stopPct > 0 && validPrice(price) && price < g.LowerPrice*(1-stopPct/100)
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
