package models

import "time"

// RiskState is the governor level.
type RiskState string

const (
	RiskNormal  RiskState = "NORMAL"
	RiskCaution RiskState = "CAUTION"
	RiskHalt    RiskState = "HALT"
)

// Rank orders the states for escalation; unknown values rank as NORMAL.
func (s RiskState) Rank() int {
	switch s {
	case RiskCaution:
		return 1
	case RiskHalt:
		return 2
	default:
		return 0
	}
}

// GovernorDecision is the output of one governor evaluation.
// EntriesPaused is true iff State != NORMAL; Since only moves on a real transition.
type GovernorDecision struct {
	State         RiskState `json:"state"`
	EntriesPaused bool      `json:"entries_paused"`
	Since         time.Time `json:"since"`
	Triggers      []string  `json:"triggers,omitempty"`
}

// Baselines track the equity references used for drawdown.
type Baselines struct {
	Day          string    `json:"day"` // UTC date, 2006-01-02
	DailyEquity  float64   `json:"daily_equity"`
	FeesToday    float64   `json:"fees_today"`
	RollingPeak  float64   `json:"rolling_peak"`
	RollingStart time.Time `json:"rolling_start"`
}

// GovernorState 是需要持久化的风控状态
type GovernorState struct {
	Decision  GovernorDecision `json:"decision"`
	Trending  bool             `json:"trending"`
	LastADX   *float64         `json:"last_adx,omitempty"`
	Baselines Baselines        `json:"baselines"`
}

// PauseReason is why a grid stopped placing BUY orders.
type PauseReason string

const (
	PauseNone      PauseReason = "none"
	PauseTrend     PauseReason = "trend"
	PauseLiquidity PauseReason = "liquidity"
)

// GridStatus is the grid lifecycle state.
type GridStatus string

const (
	GridRunning GridStatus = "running"
	GridStopped GridStatus = "stopped"
)

// LiquidationAction is what a terminal breakout does with the grid.
type LiquidationAction string

const (
	LiquidateNone       LiquidationAction = "none"
	LiquidateCancelOnly LiquidationAction = "cancel_only"
	LiquidateMarketSell LiquidationAction = "market_sell"
)

// GridOrder is a live order tracked on a level.
type GridOrder struct {
	OrderID       int64     `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	PlacedAt      time.Time `json:"placed_at"`
}

// GridLevel holds at most one open order per side.
type GridLevel struct {
	Index int        `json:"index"`
	Price float64    `json:"price"`
	Buy   *GridOrder `json:"buy,omitempty"`
	Sell  *GridOrder `json:"sell,omitempty"`
}

// Order returns the tracked order for side.
func (l *GridLevel) Order(side Side) *GridOrder {
	if side == Buy {
		return l.Buy
	}
	return l.Sell
}

// SetOrder replaces the tracked order for side.
func (l *GridLevel) SetOrder(side Side, o *GridOrder) {
	if side == Buy {
		l.Buy = o
		return
	}
	l.Sell = o
}

// GridPerformance 累计网格的成交表现
type GridPerformance struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	Fees          float64 `json:"fees"`
	BuyFills      int     `json:"buy_fills"`
	SellFills     int     `json:"sell_fills"`
	InventoryQty  float64 `json:"inventory_qty"`
	InventoryCost float64 `json:"inventory_cost"`
}

// GridState is the persisted state of one grid.
type GridState struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	LowerPrice     float64           `json:"lower_price"`
	UpperPrice     float64           `json:"upper_price"`
	Levels         []GridLevel       `json:"levels"`
	Status         GridStatus        `json:"status"`
	StopReason     string            `json:"stop_reason,omitempty"`
	Liquidation    LiquidationAction `json:"liquidation,omitempty"`
	BuyPaused      bool              `json:"buy_paused"`
	PauseReason    PauseReason       `json:"pause_reason"`
	PausedAt       time.Time         `json:"paused_at"`
	GoodTicks      int               `json:"-"` // resume streak restarts after a restart
	BreakdownTicks int               `json:"breakdown_ticks"`
	Trending       bool              `json:"trending"`
	Generation     int64             `json:"generation"`
	Performance    GridPerformance   `json:"performance"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the grid state.
func (g *GridState) Clone() *GridState {
	if g == nil {
		return nil
	}
	c := *g
	c.Levels = make([]GridLevel, len(g.Levels))
	for i, l := range g.Levels {
		c.Levels[i] = l
		if l.Buy != nil {
			o := *l.Buy
			c.Levels[i].Buy = &o
		}
		if l.Sell != nil {
			o := *l.Sell
			c.Levels[i].Sell = &o
		}
	}
	return &c
}

// OpenOrders returns every tracked order on the grid.
func (g *GridState) OpenOrders() []*GridOrder {
	var out []*GridOrder
	for i := range g.Levels {
		if g.Levels[i].Buy != nil {
			out = append(out, g.Levels[i].Buy)
		}
		if g.Levels[i].Sell != nil {
			out = append(out, g.Levels[i].Sell)
		}
	}
	return out
}

// BotState 定义了需要持久化的所有关键数据
type BotState struct {
	BotID          string                    `json:"bot_id"`           // Bot的唯一标识符
	Version        int                       `json:"version"`          // 状态模型的版本号，用于未来迁移
	Governor       GovernorState             `json:"governor"`         // 风控状态机
	Grids          map[string]*GridState     `json:"grids"`            // 按交易对索引的网格状态
	Plans          map[string][]StrategyPlan `json:"plans"`            // 最近一次的多周期计划
	LastUpdateTime time.Time                 `json:"last_update_time"` // 状态最后更新的时间戳
}

// StateVersion is the current BotState schema version.
const StateVersion = 2

// NewBotState returns the NORMAL, unpaused default document.
func NewBotState(botID string, now time.Time) *BotState {
	return &BotState{
		BotID:   botID,
		Version: StateVersion,
		Governor: GovernorState{
			Decision: GovernorDecision{State: RiskNormal, Since: now},
		},
		Grids:          make(map[string]*GridState),
		Plans:          make(map[string][]StrategyPlan),
		LastUpdateTime: now,
	}
}

// Clone returns a deep copy of the document.
func (s *BotState) Clone() *BotState {
	if s == nil {
		return nil
	}
	c := *s
	c.Governor.Decision.Triggers = append([]string(nil), s.Governor.Decision.Triggers...)
	if s.Governor.LastADX != nil {
		v := *s.Governor.LastADX
		c.Governor.LastADX = &v
	}
	c.Grids = make(map[string]*GridState, len(s.Grids))
	for k, g := range s.Grids {
		c.Grids[k] = g.Clone()
	}
	c.Plans = make(map[string][]StrategyPlan, len(s.Plans))
	for k, plans := range s.Plans {
		cp := make([]StrategyPlan, len(plans))
		for i, p := range plans {
			cp[i] = p.Clone()
		}
		c.Plans[k] = cp
	}
	return &c
}
