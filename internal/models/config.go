package models

import "time"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet        bool    `json:"is_testnet"`                                            // 是否使用测试网
	DBPath           string  `json:"db_path" default:"data/bot_state"`                      // badger 数据目录
	HomeAsset        string  `json:"home_asset" default:"USDT" validate:"required"`         // settlement currency
	TickIntervalSec  int     `json:"tick_interval_sec" default:"30" validate:"gte=1"`       // scheduler tick
	PlanIntervalSec  int     `json:"plan_interval_sec" default:"300" validate:"gte=1"`      // strategy planning cadence
	RequestTimeoutMs int     `json:"request_timeout_ms" default:"5000" validate:"gte=100"`  // per-lookup timeout
	RateLimitPerSec  float64 `json:"rate_limit_per_sec" default:"8" validate:"gt=0"`        // REST throttle
	RulesCacheTTLSec int     `json:"rules_cache_ttl_sec" default:"300" validate:"gte=1"`    // symbol rules TTL
	PriceStaleSec    int     `json:"price_stale_sec" default:"10" validate:"gte=1"`         // websocket price freshness
	MetricsAddr      string  `json:"metrics_addr" default:":9102"`                          // prometheus listener
	StreamPrices     bool    `json:"stream_prices"`                                         // subscribe to aggTrade
	LiveAPIURL       string  `json:"live_api_url"`                                          // optional REST override
	LiveWSURL        string  `json:"live_ws_url" default:"wss://stream.binance.com:9443"`   // websocket base
	TestnetWSURL     string  `json:"testnet_ws_url" default:"wss://testnet.binance.vision"` // testnet websocket base
	InitialBalance   float64 `json:"initial_balance" default:"10000" validate:"gte=0"`      // backtest quote funding
	InitialBase      float64 `json:"initial_base" validate:"gte=0"`                         // backtest base funding
	AdvisorChangePct float64 `json:"advisor_change_pct" default:"5" validate:"gte=0"`       // advisory volatility caution

	Risk     RiskConfig     `json:"risk"`
	Governor GovernorConfig `json:"governor"`
	Guards   GuardConfig    `json:"guards"`
	Strategy StrategyConfig `json:"strategy"`
	Grids    []GridConfig   `json:"grids" validate:"dive"`
	Backtest BacktestConfig `json:"backtest"`
	Log      LogConfig      `json:"log"`
}

// BacktestConfig holds the simulated venue filters used in backtest mode.
type BacktestConfig struct {
	TickSize     float64 `json:"tick_size" default:"0.01" validate:"gt=0"`
	StepSize     float64 `json:"step_size" default:"0.00001" validate:"gt=0"`
	MinQty       float64 `json:"min_qty" default:"0.00001" validate:"gte=0"`
	MinNotional  float64 `json:"min_notional" default:"5" validate:"gte=0"`
	SlippageRate float64 `json:"slippage_rate" default:"0.0005" validate:"gte=0,lt=1"` // market orders only
}

// RiskConfig 定义了仓位规模相关的配置
type RiskConfig struct {
	RiskPerTradeFraction float64 `json:"risk_per_trade_fraction" default:"0.01" validate:"gt=0,lte=1"`
	MaxPositionNotional  float64 `json:"max_position_notional" default:"1000" validate:"gt=0"`
	SlippageBps          float64 `json:"slippage_bps" default:"5" validate:"gte=0,lt=10000"`
	MakerFeeRate         float64 `json:"maker_fee_rate" default:"0.001" validate:"gte=0,lt=1"`
	TakerFeeRate         float64 `json:"taker_fee_rate" default:"0.001" validate:"gte=0,lt=1"`

	// Bounds for advisory tuning suggestions.
	MinRiskPerTradeFraction float64 `json:"min_risk_per_trade_fraction" default:"0.002" validate:"gte=0"`
	MaxRiskPerTradeFraction float64 `json:"max_risk_per_trade_fraction" default:"0.02" validate:"gtefield=MinRiskPerTradeFraction"`
	MaxSlippageBps          float64 `json:"max_slippage_bps" default:"50" validate:"gte=0"`
}

// Settings converts the config into engine risk settings.
func (r RiskConfig) Settings() RiskSettings {
	return RiskSettings{
		MaxPositionNotional:  r.MaxPositionNotional,
		RiskPerTradeFraction: r.RiskPerTradeFraction,
		MakerFeeRate:         r.MakerFeeRate,
		TakerFeeRate:         r.TakerFeeRate,
	}
}

// GovernorConfig holds the risk governor thresholds and dwell times.
type GovernorConfig struct {
	TrendAdxOn         float64 `json:"trend_adx_on" default:"25" validate:"gt=0"`
	TrendAdxOff        float64 `json:"trend_adx_off" default:"20" validate:"gt=0,ltefield=TrendAdxOn"`
	DrawdownCautionPct float64 `json:"drawdown_caution_pct" default:"3" validate:"gte=0"`
	DrawdownHaltPct    float64 `json:"drawdown_halt_pct" default:"6" validate:"gtefield=DrawdownCautionPct"`
	FeeBurnCautionPct  float64 `json:"fee_burn_caution_pct" default:"0.5" validate:"gte=0"`
	FeeBurnHaltPct     float64 `json:"fee_burn_halt_pct" default:"1" validate:"gtefield=FeeBurnCautionPct"`
	MinStateSeconds    int     `json:"min_state_seconds" default:"900" validate:"gte=0"`
	HaltMinSeconds     int     `json:"halt_min_seconds" default:"3600" validate:"gtefield=MinStateSeconds"`
	RollingWindowHours int     `json:"rolling_window_hours" default:"168" validate:"gte=1"`
	CautionOnTrend     bool    `json:"caution_on_trend"`
	TrendSymbol        string  `json:"trend_symbol"` // symbol whose ADX feeds the trend signal; defaults to the first grid
}

// MinState returns the CAUTION dwell time.
func (g GovernorConfig) MinState() time.Duration {
	return time.Duration(g.MinStateSeconds) * time.Second
}

// HaltMin returns the HALT dwell time.
func (g GovernorConfig) HaltMin() time.Duration {
	return time.Duration(g.HaltMinSeconds) * time.Second
}

// RollingWindow returns the rolling baseline window.
func (g GovernorConfig) RollingWindow() time.Duration {
	return time.Duration(g.RollingWindowHours) * time.Hour
}

// GuardConfig holds the grid trend and liquidity guard knobs.
type GuardConfig struct {
	GridBreakdownPct           float64 `json:"grid_breakdown_pct" default:"2" validate:"gte=0"`
	GridBreakdownTicks         int     `json:"grid_breakdown_ticks" default:"3" validate:"gte=1"`
	GridAtrPctMax              float64 `json:"grid_atr_pct_max" default:"4" validate:"gte=0"`
	GridResumeTicks            int     `json:"grid_resume_ticks" default:"5" validate:"gte=1"`
	GridResumeMinutes          int     `json:"grid_resume_minutes" default:"30" validate:"gte=0"`
	MinQuoteVolumeForLiquidity float64 `json:"min_quote_volume_for_liquidity" default:"1000000" validate:"gte=0"`
	LiquidityResumeTicks       int     `json:"liquidity_resume_ticks" default:"5" validate:"gte=1"`
	LiquidityResumeMinutes     int     `json:"liquidity_resume_minutes" default:"60" validate:"gte=0"`
	TrendAdxOn                 float64 `json:"trend_adx_on" default:"25" validate:"gt=0"`
	TrendAdxOff                float64 `json:"trend_adx_off" default:"20" validate:"gt=0,ltefield=TrendAdxOn"`
}

// StrategyConfig 定义了多周期策略计划的配置
type StrategyConfig struct {
	Symbols          []string `json:"symbols"`
	ShortInterval    string   `json:"short_interval" default:"15m"`
	MediumInterval   string   `json:"medium_interval" default:"1h"`
	LongInterval     string   `json:"long_interval" default:"4h"`
	ShortHoldMinutes int      `json:"short_hold_minutes" default:"240" validate:"gte=1"`
	MedHoldMinutes   int      `json:"medium_hold_minutes" default:"1440" validate:"gte=1"`
	LongHoldMinutes  int      `json:"long_hold_minutes" default:"4320" validate:"gte=1"`
	KlineLimit       int      `json:"kline_limit" default:"200" validate:"gte=60,lte=1000"`
	ApplyTuning      bool     `json:"apply_tuning"` // clamp advisory deltas into the risk bounds
}

// GridConfig 定义了单个网格的配置
type GridConfig struct {
	Symbol            string  `json:"symbol" validate:"required"`
	BaseAsset         string  `json:"base_asset" validate:"required"`
	QuoteAsset        string  `json:"quote_asset" validate:"required"`
	LowerPrice        float64 `json:"lower_price" validate:"gt=0"`
	UpperPrice        float64 `json:"upper_price" validate:"gtfield=LowerPrice"`
	GridCount         int     `json:"grid_count" default:"10" validate:"gte=2,lte=200"`
	OrderNotional     float64 `json:"order_notional" validate:"gt=0"`                       // quote per level
	KlineInterval     string  `json:"kline_interval" default:"15m"`                         // guard indicator interval
	KlineLimit        int     `json:"kline_limit" default:"100" validate:"gte=30,lte=1000"` // guard indicator history
	StopOnBreakoutPct float64 `json:"stop_on_breakout_pct" validate:"gte=0"`                // 0 disables
	Liquidation       string  `json:"liquidation" default:"cancel_only" validate:"oneof=none cancel_only market_sell"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" default:"info"`        // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" default:"console"`    // 输出模式: "console", "file", "both"
	File       string `json:"file" default:"logs/bot.log"` // 日志文件路径
	MaxSize    int    `json:"max_size" default:"100"`      // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" default:"5"`     // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" default:"30"`        // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`                    // 是否压缩旧日志文件
}
