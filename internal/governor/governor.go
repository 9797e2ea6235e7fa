// Package governor implements the NORMAL/CAUTION/HALT risk state machine.
//
// Every function here is pure: the previous state and the current inputs go
// in, the next state comes out. The clock is part of the inputs.
package governor

import (
	"math"
	"time"

	"binance-regime-grid-go/internal/models"
)

// Trigger names reported in GovernorDecision.Triggers.
const (
	TriggerDrawdownHalt    = "drawdown_halt"
	TriggerDrawdownCaution = "drawdown_caution"
	TriggerFeeBurnHalt     = "fee_burn_halt"
	TriggerFeeBurnCaution  = "fee_burn_caution"
	TriggerTrend           = "trend"
)

// Metrics are the risk measurements of one tick. Non-finite values never trigger.
type Metrics struct {
	DailyDrawdownPct   float64
	RollingDrawdownPct float64
	FeeBurnPct         float64
}

// Drawdown returns the worse of the daily and rolling drawdowns.
func (m Metrics) Drawdown() float64 {
	return math.Max(sanitize(m.DailyDrawdownPct), sanitize(m.RollingDrawdownPct))
}

// Inputs are the raw observations fed to Evaluate.
type Inputs struct {
	Now    time.Time
	Equity float64  // home currency
	Fees   float64  // fees paid since the previous evaluation, home currency
	ADX    *float64 // trend signal source; nil keeps the previous trending flag
}

// Evaluate advances the full governor state by one tick.
func Evaluate(prev models.GovernorState, in Inputs, cfg models.GovernorConfig) (models.GovernorState, Metrics) {
	next := prev
	next.Baselines = UpdateBaselines(prev.Baselines, in.Equity, in.Fees, in.Now, cfg.RollingWindow())
	if in.ADX != nil {
		v := *in.ADX
		next.LastADX = &v
	}
	next.Trending = NextTrending(prev.Trending, in.ADX, cfg.TrendAdxOn, cfg.TrendAdxOff)

	m := Measure(next.Baselines, in.Equity)
	next.Decision = Decide(prev.Decision, m, next.Trending, in.Now, cfg)
	return next, m
}

// Measure derives drawdowns and fee burn from the baselines.
func Measure(b models.Baselines, equity float64) Metrics {
	return Metrics{
		DailyDrawdownPct:   drawdownPct(b.DailyEquity, equity),
		RollingDrawdownPct: drawdownPct(b.RollingPeak, equity),
		FeeBurnPct:         ratioPct(b.FeesToday, b.DailyEquity),
	}
}

// Decide is the hysteresis state machine. Escalation happens on the tick a
// threshold is breached; de-escalation waits for the dwell time of the
// current state and then drops to the highest level still triggered.
func Decide(prev models.GovernorDecision, m Metrics, trending bool, now time.Time, cfg models.GovernorConfig) models.GovernorDecision {
	current := prev.State
	if current.Rank() == 0 {
		current = models.RiskNormal
	}
	target, triggers := Level(m, trending, cfg)

	next := current
	switch {
	case target.Rank() > current.Rank():
		next = target
	case target.Rank() < current.Rank():
		if now.Sub(prev.Since) >= dwell(current, cfg) {
			next = target
		}
	}

	since := prev.Since
	if next != current || since.IsZero() {
		since = now
	}
	return models.GovernorDecision{
		State:         next,
		EntriesPaused: next != models.RiskNormal,
		Since:         since,
		Triggers:      triggers,
	}
}

// Level returns the state the metrics call for and the triggers that are active.
// A threshold of zero or less is disabled.
func Level(m Metrics, trending bool, cfg models.GovernorConfig) (models.RiskState, []string) {
	dd := m.Drawdown()
	fee := sanitize(m.FeeBurnPct)

	var triggers []string
	state := models.RiskNormal
	raise := func(s models.RiskState, name string) {
		triggers = append(triggers, name)
		if s.Rank() > state.Rank() {
			state = s
		}
	}

	switch {
	case breached(dd, cfg.DrawdownHaltPct):
		raise(models.RiskHalt, TriggerDrawdownHalt)
	case breached(dd, cfg.DrawdownCautionPct):
		raise(models.RiskCaution, TriggerDrawdownCaution)
	}
	switch {
	case breached(fee, cfg.FeeBurnHaltPct):
		raise(models.RiskHalt, TriggerFeeBurnHalt)
	case breached(fee, cfg.FeeBurnCautionPct):
		raise(models.RiskCaution, TriggerFeeBurnCaution)
	}
	if cfg.CautionOnTrend && trending {
		raise(models.RiskCaution, TriggerTrend)
	}
	return state, triggers
}

// NextTrending applies on/off hysteresis to the ADX trend signal: trending
// starts at adx >= on and ends only once adx < off.
func NextTrending(prev bool, adx *float64, on, off float64) bool {
	if adx == nil || math.IsNaN(*adx) || math.IsInf(*adx, 0) {
		return prev
	}
	if prev {
		return *adx >= off
	}
	return *adx >= on
}

// UpdateBaselines rolls the daily baseline on a UTC day change and the
// rolling peak when its window has elapsed. Non-positive or non-finite
// equity leaves the equity references untouched.
func UpdateBaselines(b models.Baselines, equity, fees float64, now time.Time, window time.Duration) models.Baselines {
	day := now.UTC().Format("2006-01-02")
	valid := equity > 0 && !math.IsInf(equity, 0)

	if b.Day != day {
		b.Day = day
		b.FeesToday = 0
		b.DailyEquity = 0
		if valid {
			b.DailyEquity = equity
		}
	} else if b.DailyEquity <= 0 && valid {
		b.DailyEquity = equity
	}

	if fees > 0 && !math.IsInf(fees, 0) {
		b.FeesToday += fees
	}

	if valid {
		if b.RollingStart.IsZero() || now.Sub(b.RollingStart) >= window {
			b.RollingStart = now
			b.RollingPeak = equity
		} else if equity > b.RollingPeak {
			b.RollingPeak = equity
		}
	}
	return b
}

func dwell(state models.RiskState, cfg models.GovernorConfig) time.Duration {
	if state == models.RiskHalt {
		return cfg.HaltMin()
	}
	return cfg.MinState()
}

func breached(value, threshold float64) bool {
	return threshold > 0 && value >= threshold
}

func drawdownPct(baseline, equity float64) float64 {
	if baseline <= 0 || equity <= 0 {
		return 0
	}
	return sanitize((baseline - equity) / baseline * 100)
}

func ratioPct(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return sanitize(num / den * 100)
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
