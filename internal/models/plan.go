package models

import "time"

// Horizon tags a strategy plan with its holding window.
type Horizon string

const (
	HorizonShort  Horizon = "short"
	HorizonMedium Horizon = "medium"
	HorizonLong   Horizon = "long"
)

// Horizons lists every horizon in planning order.
var Horizons = []Horizon{HorizonShort, HorizonMedium, HorizonLong}

// Regime is the market behaviour classification.
type Regime string

const (
	RegimeTrend   Regime = "TREND"
	RegimeRange   Regime = "RANGE"
	RegimeNeutral Regime = "NEUTRAL"
)

// ReasonCode explains why a plan carries no tradeable quantity.
type ReasonCode string

const (
	ReasonNone             ReasonCode = ""
	ReasonNoEntry          ReasonCode = "no_entry"
	ReasonNoStop           ReasonCode = "no_stop"
	ReasonInvalidSize      ReasonCode = "invalid_size"
	ReasonBelowMinQty      ReasonCode = "below_min_qty"
	ReasonBelowMinNotional ReasonCode = "below_min_notional"
	ReasonEntriesPaused    ReasonCode = "entries_paused"
)

// EntryPlan 描述入场订单
type EntryPlan struct {
	Side       Side    `json:"side"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Confidence float64 `json:"confidence"` // 0..1
}

// ExitPlan 描述止损与止盈
type ExitPlan struct {
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"`
	HoldMinutes int       `json:"hold_minutes"`
}

// TuningDelta is a suggested, never binding, adjustment of risk settings.
type TuningDelta struct {
	RiskPerTradeFraction *float64 `json:"risk_per_trade_fraction,omitempty"`
	SlippageBps          *float64 `json:"slippage_bps,omitempty"`
}

// Advisory is display-only rationale attached to a plan.
type Advisory struct {
	Text       string       `json:"text"`
	Cautions   []string     `json:"cautions,omitempty"`
	Confidence float64      `json:"confidence"`
	Suggested  *TuningDelta `json:"suggested,omitempty"`
}

// StrategyPlan is the per-horizon output of the strategy engine.
// A plan with zero quantity is valid and means there is no tradeable edge.
type StrategyPlan struct {
	Symbol      string     `json:"symbol"`
	Horizon     Horizon    `json:"horizon"`
	Interval    string     `json:"interval"`
	Regime      Regime     `json:"regime"`
	Bias        Side       `json:"bias"`
	Thesis      string     `json:"thesis"`
	Entry       EntryPlan  `json:"entry"`
	Exit        ExitPlan   `json:"exit"`
	EntryOK     bool       `json:"entry_ok"`
	Reason      ReasonCode `json:"reason,omitempty"`
	RiskReward  float64    `json:"risk_reward"`
	FeeEstimate float64    `json:"fee_estimate"`
	Signals     []string   `json:"signals"`
	Advisory    *Advisory  `json:"advisory,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Clone returns a deep copy of the plan.
func (p StrategyPlan) Clone() StrategyPlan {
	c := p
	c.Exit.TakeProfits = append([]float64(nil), p.Exit.TakeProfits...)
	c.Signals = append([]string(nil), p.Signals...)
	if p.Advisory != nil {
		a := *p.Advisory
		a.Cautions = append([]string(nil), p.Advisory.Cautions...)
		if p.Advisory.Suggested != nil {
			s := *p.Advisory.Suggested
			a.Suggested = &s
		}
		c.Advisory = &a
	}
	return c
}
