package strategy

import (
	"context"
	"sync"
	"time"

	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"

	"go.uber.org/zap"
)

// Engine builds the short, medium and long plans of a symbol.
type Engine struct {
	market  exchange.MarketData
	rules   exchange.RulesProvider
	advisor exchange.Advisor // optional
	cfg     models.StrategyConfig
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.RWMutex
	risk models.RiskConfig
}

// NewEngine creates a strategy engine. advisor may be nil.
func NewEngine(market exchange.MarketData, rules exchange.RulesProvider, advisor exchange.Advisor,
	cfg models.StrategyConfig, risk models.RiskConfig, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		market:  market,
		rules:   rules,
		advisor: advisor,
		cfg:     cfg,
		risk:    risk,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Risk returns the risk config currently in effect.
func (e *Engine) Risk() models.RiskConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risk
}

type horizonDef struct {
	horizon  models.Horizon
	interval string
	hold     int
}

func (e *Engine) horizons() []horizonDef {
	return []horizonDef{
		{models.HorizonShort, e.cfg.ShortInterval, e.cfg.ShortHoldMinutes},
		{models.HorizonMedium, e.cfg.MediumInterval, e.cfg.MedHoldMinutes},
		{models.HorizonLong, e.cfg.LongInterval, e.cfg.LongHoldMinutes},
	}
}

// Plan returns one plan per horizon. Data failures degrade to neutral
// snapshots; the call itself never fails.
func (e *Engine) Plan(ctx context.Context, market models.MarketSnapshot, entriesPaused bool) []models.StrategyPlan {
	log := e.logger.Sugar().With("symbol", market.Symbol)
	now := e.now()
	if market.QuoteToHomeRate <= 0 {
		market.QuoteToHomeRate = 1
	}

	var rules models.SymbolRules
	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	r, err := e.rules.GetSymbolRules(rctx, market.Symbol)
	cancel()
	if err != nil {
		log.Warnf("获取交易规则失败, 按无精度限制计算: %v", err)
	} else {
		rules = *r
	}

	risk := e.Risk()
	plans := make([]models.StrategyPlan, 0, 3)
	for _, h := range e.horizons() {
		snap := FetchSnapshot(ctx, e.market, market.Symbol, h.interval, e.cfg.KlineLimit, e.timeout, now, e.logger)
		plan := BuildPlan(PlanInput{
			Symbol:        market.Symbol,
			Horizon:       h.horizon,
			Interval:      h.interval,
			HoldMinutes:   h.hold,
			Snapshot:      snap,
			Market:        market,
			Risk:          risk.Settings(),
			SlippageBps:   risk.SlippageBps,
			Rules:         rules,
			EntriesPaused: entriesPaused,
			Now:           now,
		})
		if err != nil {
			plan.Signals = append(plan.Signals, "rules_unavailable")
		}
		plan.Advisory = e.advise(ctx, h.horizon, market, risk)
		plans = append(plans, plan)
	}
	return plans
}

// advise attaches the advisor's rationale and, when enabled, applies its
// suggested tuning through the bounded clamp for later plans.
func (e *Engine) advise(ctx context.Context, horizon models.Horizon, market models.MarketSnapshot, risk models.RiskConfig) *models.Advisory {
	if e.advisor == nil {
		return nil
	}
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	adv, err := e.advisor.GetRationale(actx, horizon, market, risk.Settings())
	if err != nil {
		e.logger.Sugar().Debugf("advisor unavailable for %s/%s: %v", market.Symbol, horizon, err)
		return nil
	}
	if e.cfg.ApplyTuning && adv.Suggested != nil {
		e.mu.Lock()
		if tuned, changed := ApplyTuning(e.risk, adv.Suggested); changed {
			e.logger.Sugar().Infof("应用调参建议: risk_per_trade %.4f -> %.4f, slippage %.1f -> %.1f bps",
				e.risk.RiskPerTradeFraction, tuned.RiskPerTradeFraction, e.risk.SlippageBps, tuned.SlippageBps)
			e.risk = tuned
		}
		e.mu.Unlock()
	}
	return adv
}

// FetchSnapshot loads candles under a bounded timeout and computes the
// indicator snapshot, falling back to the neutral snapshot on any error.
func FetchSnapshot(ctx context.Context, md exchange.MarketData, symbol, interval string, limit int,
	timeout time.Duration, now time.Time, logger *zap.Logger) indicators.Snapshot {
	kctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	candles, err := md.GetKlines(kctx, symbol, interval, limit)
	if err != nil {
		logger.Sugar().Warnf("获取K线失败 %s %s, 使用中性指标: %v", symbol, interval, err)
		return indicators.Neutral(symbol, interval, now)
	}
	return indicators.Compute(symbol, interval, candles, now)
}
